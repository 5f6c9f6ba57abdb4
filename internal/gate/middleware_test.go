package gate

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatedApp(t *testing.T, r *fakeResolver) *fiber.App {
	t.Helper()
	e := newTestEngine(t)

	app := fiber.New()
	app.Use(Middleware(e, func(*fiber.Ctx) Resolver { return r }, DefaultSkip))
	app.Get("/*", func(c *fiber.Ctx) error {
		if sess, ok := SessionFromContext(c); ok {
			return c.SendString("hello " + sess.Subject)
		}
		return c.SendString("hello anonymous")
	})
	return app
}

func TestMiddlewareRedirectsAnonymousFromProtected(t *testing.T) {
	t.Parallel()

	app := newGatedApp(t, &fakeResolver{})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/dashboard/settings", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/auth/login?redirectTo=%2Fdashboard%2Fsettings", resp.Header.Get(fiber.HeaderLocation))
}

func TestMiddlewareRedirectsNonAdmin(t *testing.T) {
	t.Parallel()

	app := newGatedApp(t, &fakeResolver{session: liveSession(), user: userWithRole("editor")})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/admin/users", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get(fiber.HeaderLocation))
}

func TestMiddlewareAllowsAndExposesSession(t *testing.T) {
	t.Parallel()

	app := newGatedApp(t, &fakeResolver{session: liveSession()})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/dashboard", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello u1", string(body))
}

func TestMiddlewareSkipsStaticPaths(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	app := newGatedApp(t, r)

	for _, path := range []string{"/favicon.ico", "/_next/static/chunk.js", "/images/logo.png", "/api/webhooks/stripe"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, path)
	}
	assert.Zero(t, r.sessionCalls.Load())
}

func TestDefaultSkip(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"/favicon.ico":          true,
		"/robots.txt":           true,
		"/_next/image":          true,
		"/static/app.css":       true,
		"/fonts/inter.woff2":    true,
		"/images/hero.jpg":      true,
		"/api/webhooks/github":  true,
		"/api/users":            false,
		"/images-admin":         false,
		"/staticky/page":        false,
		"/dashboard":            false,
		"/admin/users":          false,
		"/dashboard/report.pdf": false,
		"/":                     false,
	}
	for path, want := range tests {
		assert.Equal(t, want, DefaultSkip(path), path)
	}
}

func TestMiddlewareCanonicalizesBeforeDeciding(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/blog/../dashboard/settings": "/dashboard/settings",
		"/blog/%2e%2e/admin/users":    "/admin/users",
		"/%64ashboard":                "/dashboard",
		"/static/../admin":            "/admin",
		"/blog/../dashboard?tab=2":    "/dashboard?tab=2",
	}
	for raw, want := range tests {
		r := &fakeResolver{}
		app := newGatedApp(t, r)

		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, raw, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusPermanentRedirect, resp.StatusCode, raw)
		assert.Equal(t, want, resp.Header.Get(fiber.HeaderLocation), raw)
		assert.Zero(t, r.sessionCalls.Load(), raw)
	}
}

func TestMiddlewareRejectsMalformedPath(t *testing.T) {
	t.Parallel()

	app := newGatedApp(t, &fakeResolver{session: liveSession()})

	for _, raw := range []string{"/dashboard/%zz", "/%5Cevil.example"} {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		req.URL.Opaque = raw

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.NotEqual(t, fiber.StatusOK, resp.StatusCode, raw)
		assert.Empty(t, resp.Header.Get(fiber.HeaderLocation), raw)
	}
}

func TestMiddlewareDecodesOnlyOnce(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	app := newGatedApp(t, r)

	// An escaped percent stays literal: the path is not /dashboard/.. and
	// is still under /dashboard.
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/dashboard/%252e%252e", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/auth/login?redirectTo=%2Fdashboard%2F%252e%252e", resp.Header.Get(fiber.HeaderLocation))
	assert.Equal(t, int32(1), r.sessionCalls.Load())
}
