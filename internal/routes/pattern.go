package routes

import (
	"fmt"
	"strings"
)

// Pattern is a compiled route template such as "/dashboard/:path*".
//
// Literal segments match literally, ":name" matches exactly one segment and a
// trailing ":name*" matches zero or more remaining segments.
type Pattern struct {
	raw      string
	segments []segment
	wildcard bool
}

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentParam
)

type segment struct {
	kind  segmentKind
	value string
}

// Compile parses a route template.
func Compile(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("route pattern %q: must start with /", raw)
	}

	parts := splitPath(raw)
	p := Pattern{raw: raw, segments: make([]segment, 0, len(parts))}

	for i, part := range parts {
		if !strings.HasPrefix(part, ":") {
			if strings.Contains(part, "*") {
				return Pattern{}, fmt.Errorf("route pattern %q: wildcard must be a named segment", raw)
			}
			p.segments = append(p.segments, segment{kind: segmentLiteral, value: part})
			continue
		}

		name := strings.TrimPrefix(part, ":")
		if strings.HasSuffix(name, "*") {
			if i != len(parts)-1 {
				return Pattern{}, fmt.Errorf("route pattern %q: wildcard segment must be last", raw)
			}
			name = strings.TrimSuffix(name, "*")
			p.wildcard = true
		}
		if name == "" || strings.ContainsAny(name, ":*") {
			return Pattern{}, fmt.Errorf("route pattern %q: invalid parameter name", raw)
		}
		if !p.wildcard {
			p.segments = append(p.segments, segment{kind: segmentParam, value: name})
		}
	}

	return p, nil
}

// MustCompile is Compile for static patterns known to be valid.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the template the pattern was compiled from.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether path matches the pattern.
func (p Pattern) Match(path string) bool {
	return p.matchSegments(splitPath(path))
}

func (p Pattern) matchSegments(parts []string) bool {
	if len(parts) < len(p.segments) {
		return false
	}
	if !p.wildcard && len(parts) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if seg.kind == segmentLiteral && parts[i] != seg.value {
			return false
		}
	}
	return true
}

// splitPath normalizes a request path into its segments: the root path has
// none, trailing and duplicate slashes are ignored.
func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	fields := strings.Split(path, "/")
	parts := fields[:0]
	for _, f := range fields {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return parts
}
