package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/access-gate/internal/domain"
	apperrors "github.com/spec-kit/access-gate/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Token   string
	Session *domain.Session
}

// SessionLookup resolves a session token. A nil session with a nil error
// means the token is unknown, expired or revoked.
type SessionLookup interface {
	GetSession(ctx context.Context, token string) (*domain.Session, error)
}

// AuthMiddleware validates session tokens for the auth API.
type AuthMiddleware struct {
	sessions   SessionLookup
	cookieName string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(sessions SessionLookup, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, cookieName: cookieName}
}

// Handle enforces a valid session on the wrapped routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token := TokenFromRequest(c, m.cookieName)
	if token == "" {
		return apperrors.NewUnauthorized("missing session")
	}

	sess, err := m.sessions.GetSession(c.UserContext(), token)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if sess == nil {
		return apperrors.NewUnauthorized("invalid session")
	}

	SetPrincipal(c, &Principal{Token: token, Session: sess})
	return c.Next()
}

// TokenFromRequest reads the session token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(c *fiber.Ctx, cookieName string) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	return c.Cookies(cookieName)
}

// SetPrincipal stores the authenticated caller for downstream handlers.
func SetPrincipal(c *fiber.Ctx, p *Principal) {
	c.Locals(principalKey, p)
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
