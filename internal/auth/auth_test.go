package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/access-gate/internal/domain"
	apperrors "github.com/spec-kit/access-gate/pkg/util/errorutil"
)

func testSession() *domain.Session {
	now := time.Now().Truncate(time.Second)
	return &domain.Session{
		ID:        "sess-1",
		Subject:   "user-1",
		Claims:    map[string]any{"email": "a@example.com"},
		Provider:  domain.ProviderPassword,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	tm := NewTokenManager("secret", time.Hour)
	token, err := tm.GenerateToken(testSession())
	require.NoError(t, err)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, domain.ProviderPassword, claims.Provider)
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	t.Parallel()

	token, err := NewTokenManager("other", time.Hour).GenerateToken(testSession())
	require.NoError(t, err)
	_, err = NewTokenManager("secret", time.Hour).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := testSession()
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	token, err = NewTokenManager("secret", time.Hour).GenerateToken(expired)
	require.NoError(t, err)
	_, err = NewTokenManager("secret", time.Hour).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenManager("secret", time.Hour).ParseToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "correct horse"))
	assert.Error(t, ComparePassword(hash, "wrong"))

	_, err = HashPassword(strings.Repeat("é", 36), 4)
	assert.NoError(t, err)
	_, err = HashPassword(strings.Repeat("é", 37), 4)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

type lookupFunc func(ctx context.Context, token string) (*domain.Session, error)

func (f lookupFunc) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	return f(ctx, token)
}

func newAPI(lookup SessionLookup) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	mw := NewAuthMiddleware(lookup, "session")
	app.Get("/me", mw.Handle, func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return errors.New("principal missing")
		}
		return c.SendString(p.Session.Subject)
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	lookup := lookupFunc(func(_ context.Context, token string) (*domain.Session, error) {
		switch token {
		case "good":
			return testSession(), nil
		case "broken":
			return nil, errors.New("redis down")
		}
		return nil, nil
	})
	app := newAPI(lookup)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"missing token", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK},
		{"cookie token", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "good"}) }, http.StatusOK},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "good") }, http.StatusUnauthorized},
		{"unknown token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"lookup failure", func(r *http.Request) { r.Header.Set("Authorization", "Bearer broken") }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		tt.setup(req)
		resp, err := app.Test(req)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.status, resp.StatusCode, tt.name)
	}
}
