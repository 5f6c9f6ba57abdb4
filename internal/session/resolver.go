package session

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/access-gate/internal/auth"
	"github.com/spec-kit/access-gate/internal/domain"
)

// Authority answers session questions for a raw session token. The auth
// service implements it.
type Authority interface {
	GetSession(ctx context.Context, token string) (*domain.Session, error)
	GetUser(ctx context.Context, token string) (*domain.User, error)
}

// Resolver binds an Authority to the token carried by one request.
// An empty token resolves to no session without contacting the authority.
type Resolver struct {
	authority Authority
	token     string
}

// NewResolver builds a resolver for token.
func NewResolver(authority Authority, token string) *Resolver {
	return &Resolver{authority: authority, token: token}
}

// GetSession returns the current session, or nil when there is none.
func (r *Resolver) GetSession(ctx context.Context) (*domain.Session, error) {
	if r.token == "" {
		return nil, nil
	}
	return r.authority.GetSession(ctx, r.token)
}

// GetUser returns the user behind the session, or nil when there is none.
func (r *Resolver) GetUser(ctx context.Context) (*domain.User, error) {
	if r.token == "" {
		return nil, nil
	}
	return r.authority.GetUser(ctx, r.token)
}

// Source reads session tokens from requests.
type Source struct {
	authority  Authority
	cookieName string
}

// NewSource creates a Source reading the named cookie or a bearer token.
func NewSource(authority Authority, cookieName string) *Source {
	return &Source{authority: authority, cookieName: cookieName}
}

// ForRequest returns the resolver for c. The result satisfies gate.Resolver.
func (s *Source) ForRequest(c *fiber.Ctx) *Resolver {
	return NewResolver(s.authority, auth.TokenFromRequest(c, s.cookieName))
}
