package gate

import (
	"net/url"

	"github.com/spec-kit/access-gate/internal/domain"
)

// DecisionKind tags the Decision variant.
type DecisionKind int

const (
	DecisionAllow DecisionKind = iota
	DecisionRedirect
)

func (k DecisionKind) String() string {
	if k == DecisionRedirect {
		return "redirect"
	}
	return "allow"
}

// Decision is the outcome for one request: Allow, or RedirectTo(path, query).
type Decision struct {
	Kind  DecisionKind
	Path  string
	Query url.Values

	// Reason names the branch that produced the decision, for logs and metrics.
	Reason string

	// Session is the session resolved while deciding, if any.
	Session *domain.Session
}

// Allow lets the request through.
func Allow(reason string) Decision {
	return Decision{Kind: DecisionAllow, Reason: reason}
}

// RedirectTo sends the caller to path with the given query parameters.
func RedirectTo(path string, query url.Values, reason string) Decision {
	return Decision{Kind: DecisionRedirect, Path: path, Query: query, Reason: reason}
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Kind == DecisionAllow
}

// Location composes the redirect target. It is empty for Allow.
func (d Decision) Location() string {
	if d.Kind != DecisionRedirect {
		return ""
	}
	if len(d.Query) == 0 {
		return d.Path
	}
	return d.Path + "?" + d.Query.Encode()
}

// Decision reasons.
const (
	ReasonUnprotected   = "unprotected"
	ReasonAuthenticated = "authenticated"
	ReasonNoSession     = "no_session"
	ReasonNotAdmin      = "not_admin"
	ReasonMalformedPath = "malformed_path"
)
