package session

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/access-gate/internal/domain"
)

type stubAuthority struct {
	tokens []string
}

func (a *stubAuthority) GetSession(_ context.Context, token string) (*domain.Session, error) {
	a.tokens = append(a.tokens, token)
	return &domain.Session{ID: "s-" + token}, nil
}

func (a *stubAuthority) GetUser(_ context.Context, token string) (*domain.User, error) {
	a.tokens = append(a.tokens, token)
	return &domain.User{ID: "u-" + token}, nil
}

func TestResolverWithoutTokenSkipsAuthority(t *testing.T) {
	t.Parallel()

	authority := &stubAuthority{}
	r := NewResolver(authority, "")

	sess, err := r.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)

	user, err := r.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Empty(t, authority.tokens)
}

func TestSourceReadsCookieAndBearer(t *testing.T) {
	t.Parallel()

	authority := &stubAuthority{}
	source := NewSource(authority, "session")

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		sess, err := source.ForRequest(c).GetSession(c.UserContext())
		if err != nil {
			return err
		}
		if sess == nil {
			return c.SendString("none")
		}
		return c.SendString(sess.ID)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderCookie, "session=cookie-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer bearer-token")
	req.Header.Set(fiber.HeaderCookie, "session=cookie-token")
	_, err = app.Test(req)
	require.NoError(t, err)

	_, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"cookie-token", "bearer-token"}, authority.tokens)
}
