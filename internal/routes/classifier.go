package routes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config lists the route templates in declaration order. The classifier
// copies it on construction, so later changes to the slices have no effect.
type Config struct {
	Public    []string `yaml:"public"`
	Protected []string `yaml:"protected"`
	Admin     []string `yaml:"admin"`
}

// DefaultConfig returns the route lists the application ships with.
func DefaultConfig() Config {
	return Config{
		Public:    []string{"/", "/auth/:path*", "/blog/:path*", "/api/:path*"},
		Protected: []string{"/dashboard/:path*", "/settings/:path*", "/admin/:path*"},
		Admin:     []string{"/admin/:path*"},
	}
}

// LoadConfig reads route lists from a YAML file. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read routes file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid routes YAML: %w", err)
	}
	return cfg, nil
}

// Classification holds the facts derived from a request path.
type Classification struct {
	// IsPublic is informational; it is never true for a protected path.
	IsPublic    bool
	IsProtected bool
	IsAdmin     bool
}

// Classifier matches paths against immutable pattern lists.
type Classifier struct {
	public    []Pattern
	protected []Pattern
	admin     []Pattern
}

// NewClassifier compiles every pattern of cfg.
func NewClassifier(cfg Config) (*Classifier, error) {
	public, err := compileAll(cfg.Public)
	if err != nil {
		return nil, fmt.Errorf("public routes: %w", err)
	}
	protected, err := compileAll(cfg.Protected)
	if err != nil {
		return nil, fmt.Errorf("protected routes: %w", err)
	}
	admin, err := compileAll(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin routes: %w", err)
	}
	return &Classifier{public: public, protected: protected, admin: admin}, nil
}

// Classify derives the route facts for path. It is pure and total.
func (c *Classifier) Classify(path string) Classification {
	parts := splitPath(path)
	protected := matchAny(c.protected, parts)
	return Classification{
		IsPublic:    !protected && matchAny(c.public, parts),
		IsProtected: protected,
		IsAdmin:     matchAny(c.admin, parts),
	}
}

// Config returns a copy of the pattern lists.
func (c *Classifier) Config() Config {
	return Config{
		Public:    templates(c.public),
		Protected: templates(c.protected),
		Admin:     templates(c.admin),
	}
}

// Warnings lists configuration smells that do not prevent startup: admin
// patterns that no protected pattern covers, and public patterns shadowed by a
// protected one.
func (c *Classifier) Warnings() []string {
	var out []string
	for _, a := range c.admin {
		if !c.covered(c.protected, a) {
			out = append(out, fmt.Sprintf("admin route %s is not covered by any protected route", a))
		}
	}
	for _, p := range c.public {
		if c.covered(c.protected, p) {
			out = append(out, fmt.Sprintf("public route %s is shadowed by a protected route", p))
		}
	}
	return out
}

// covered checks the pattern's literal prefix as a representative path.
func (c *Classifier) covered(list []Pattern, p Pattern) bool {
	parts := make([]string, 0, len(p.segments))
	for _, seg := range p.segments {
		if seg.kind != segmentLiteral {
			parts = append(parts, "x")
			continue
		}
		parts = append(parts, seg.value)
	}
	return matchAny(list, parts)
}

func compileAll(raw []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := Compile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func matchAny(list []Pattern, parts []string) bool {
	for _, p := range list {
		if p.matchSegments(parts) {
			return true
		}
	}
	return false
}

func templates(list []Pattern) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.raw
	}
	return out
}
