package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/config"
	"github.com/spec-kit/access-gate/internal/domain"
	"github.com/spec-kit/access-gate/internal/oauth"
)

type stubProvider struct{}

func (stubProvider) Name() domain.AuthProvider { return domain.ProviderGoogle }

func (stubProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (stubProvider) Identify(_ context.Context, code string) (oauth.Identity, error) {
	if code != "google-code" {
		return oauth.Identity{}, oauth.ErrInvalidCode
	}
	return oauth.Identity{
		Provider:       domain.ProviderGoogle,
		ProviderUserID: "g-42",
		Email:          "grace@example.com",
		EmailVerified:  true,
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "access-gate", Version: "test", SiteURL: "http://localhost:8080"},
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret",
			SessionTTLMinutes:  60,
			BcryptCost:         4,
			CookieName:         "session",
			AuthCodeTTLSeconds: 60,
		},
		Gate: config.GateConfig{
			LoginPath:               "/auth/login",
			FallbackPath:            "/dashboard",
			RedirectParam:           "redirectTo",
			AdminRole:               "admin",
			ResolverTimeoutMillis:   1000,
			DefaultPostAuthRedirect: "/dashboard",
		},
		OAuth: config.OAuthConfig{StateTTLSeconds: 60},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	deps := MemoryDependencies()
	deps.Providers.Register(stubProvider{})

	a, err := New(ctx, testConfig(), zap.NewNop(), deps)
	require.NoError(t, err)
	return a
}

func do(t *testing.T, a *App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := a.Fiber.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, a *App, path, cookie string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if cookie != "" {
		req.Header.Set(fiber.HeaderCookie, "session="+cookie)
	}
	return do(t, a, req)
}

func sessionCookie(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			return c.Value
		}
	}
	t.Fatal("no session cookie set")
	return ""
}

func signUp(t *testing.T, a *App, email string) string {
	t.Helper()
	body := strings.NewReader(`{"email":"` + email + `","password":"correct horse"}`)
	req := httptest.NewRequest(fiber.MethodPost, "/auth/v1/signup", body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp := do(t, a, req)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return sessionCookie(t, resp)
}

func TestAnonymousProtectedPathRedirectsToLogin(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	resp := get(t, a, "/dashboard/settings", "")
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/auth/login?redirectTo=%2Fdashboard%2Fsettings", resp.Header.Get(fiber.HeaderLocation))
}

func TestPublicPathsPassThrough(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	for _, path := range []string{"/", "/blog/my-post", "/auth/login", "/pricing"} {
		resp := get(t, a, path, "")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, path)
	}

	resp := get(t, a, "/health/live", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = get(t, a, "/health/ready", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSignedInUserReachesDashboardButNotAdmin(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	token := signUp(t, a, "ada@example.com")

	resp := get(t, a, "/dashboard", token)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"page":"/dashboard"`)

	resp = get(t, a, "/admin/users", token)
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get(fiber.HeaderLocation))

	_, err = a.Auth.SetRole(context.Background(), "ada@example.com", "admin")
	require.NoError(t, err)

	resp = get(t, a, "/admin/users", token)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestLogoutRevokesAccess(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	token := signUp(t, a, "ada@example.com")

	req := httptest.NewRequest(fiber.MethodPost, "/auth/v1/logout", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp := do(t, a, req)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = get(t, a, "/dashboard", token)
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)

	resp = get(t, a, "/auth/v1/user", token)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSessionEndpoint(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	resp := get(t, a, "/auth/v1/session", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var empty struct {
		Data *json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	assert.Nil(t, empty.Data)

	token := signUp(t, a, "ada@example.com")
	resp = get(t, a, "/auth/v1/session", token)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out struct {
		Data struct {
			Provider string `json:"provider"`
			User     struct {
				Email string `json:"email"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "password", out.Data.Provider)
	assert.Equal(t, "ada@example.com", out.Data.User.Email)
}

func TestSignInErrors(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	signUp(t, a, "ada@example.com")

	req := httptest.NewRequest(fiber.MethodPost, "/auth/v1/token", strings.NewReader(`{"email":"ada@example.com","password":"wrong-pass"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp := do(t, a, req)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "INVALID_CREDENTIALS", out.Error.Code)

	req = httptest.NewRequest(fiber.MethodPost, "/auth/v1/signup", strings.NewReader(`{"email":"ada@example.com","password":"correct horse"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp = do(t, a, req)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestSignUpRejectsPasswordOverBcryptLimit(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	password := strings.Repeat("é", 72)
	req := httptest.NewRequest(fiber.MethodPost, "/auth/v1/signup", strings.NewReader(`{"email":"ada@example.com","password":"`+password+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp := do(t, a, req)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "VALIDATION_FAILED", out.Error.Code)
}

func getWithCookie(t *testing.T, a *App, path string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return do(t, a, req)
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// startOAuth runs the authorize and provider legs in one browser and returns
// its verifier cookie with the app callback URL.
func startOAuth(t *testing.T, a *App, redirectTo string) (*http.Cookie, string) {
	t.Helper()

	resp := get(t, a, "/auth/v1/authorize?provider=google&redirect_to="+url.QueryEscape(redirectTo), "")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	verifier := findCookie(resp, "session_oauth_verifier")
	require.NotNil(t, verifier)
	assert.True(t, verifier.HttpOnly)
	assert.Equal(t, "/auth", verifier.Path)

	authorize, err := url.Parse(resp.Header.Get(fiber.HeaderLocation))
	require.NoError(t, err)
	state := authorize.Query().Get("state")
	require.NotEmpty(t, state)

	resp = getWithCookie(t, a, "/auth/v1/callback?state="+url.QueryEscape(state)+"&code=google-code", verifier)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	appCallback := resp.Header.Get(fiber.HeaderLocation)
	require.True(t, strings.HasPrefix(appCallback, "/auth/callback?"), appCallback)
	return verifier, appCallback
}

func TestOAuthRoundTrip(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	verifier, appCallback := startOAuth(t, a, "/settings/profile")

	resp := getWithCookie(t, a, appCallback, verifier)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/settings/profile", resp.Header.Get(fiber.HeaderLocation))
	token := sessionCookie(t, resp)
	cleared := findCookie(resp, "session_oauth_verifier")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	resp = get(t, a, "/settings/profile", token)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The one-time code cannot be replayed.
	resp = getWithCookie(t, a, appCallback, verifier)
	assert.Equal(t, "/auth/login", resp.Header.Get(fiber.HeaderLocation))
}

func TestOAuthCodeOnlyRedeemsInStartingBrowser(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	_, appCallback := startOAuth(t, a, "/dashboard")

	// Another browser opening the link gets no session.
	resp := get(t, a, appCallback, "")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get(fiber.HeaderLocation))
	assert.Nil(t, findCookie(resp, "session"))

	other, _ := startOAuth(t, a, "/dashboard")
	_, appCallback = startOAuth(t, a, "/dashboard")
	resp = getWithCookie(t, a, appCallback, other)
	assert.Equal(t, "/auth/login", resp.Header.Get(fiber.HeaderLocation))
	assert.Nil(t, findCookie(resp, "session"))
}

func TestProviderCallbackRequiresVerifier(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	resp := get(t, a, "/auth/v1/authorize?provider=google", "")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	authorize, err := url.Parse(resp.Header.Get(fiber.HeaderLocation))
	require.NoError(t, err)

	resp = get(t, a, "/auth/v1/callback?state="+url.QueryEscape(authorize.Query().Get("state"))+"&code=google-code", "")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get(fiber.HeaderLocation))
}

func TestAuthorizeWithoutRedirectReturnsStartURL(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	resp := get(t, a, "/auth/v1/authorize?provider=google&redirect_to=%2Fsettings&skip_http_redirect=true", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Nil(t, findCookie(resp, "session_oauth_verifier"))

	var body struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "/auth/v1/authorize?provider=google&redirect_to=%2Fsettings", body.Data.URL)

	resp = get(t, a, "/auth/v1/authorize?provider=github&skip_http_redirect=true", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAppCallbackWithoutCodeGoesToLogin(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	resp := get(t, a, "/auth/callback?redirectTo=%2Fdashboard", "")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get(fiber.HeaderLocation))
}

func TestAuthorizeRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	resp := get(t, a, "/auth/v1/authorize?provider=github", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = get(t, a, "/auth/v1/authorize?provider=apple", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	get(t, a, "/dashboard", "")

	resp := get(t, a, "/metrics", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gate_decisions_total{decision="no_session"} 1`)
}

func TestForgedAuthHeaderIsStripped(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("user=" + r.Header.Get("X-Auth-User")))
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig()
	cfg.App.UpstreamURL = upstream.URL
	a, err := New(context.Background(), cfg, zap.NewNop(), MemoryDependencies())
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodGet, "/blog/post", nil)
	req.Header.Set("X-Auth-User", "admin-user-id")
	resp := do(t, a, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "user=", string(body))
}

func TestTraversalNeverReachesUpstream(t *testing.T) {
	t.Parallel()

	var seen []string
	var mu sync.Mutex
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte("page"))
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig()
	cfg.App.UpstreamURL = upstream.URL
	a, err := New(context.Background(), cfg, zap.NewNop(), MemoryDependencies())
	require.NoError(t, err)

	tests := map[string]string{
		"/blog/../dashboard/settings": "/dashboard/settings",
		"/blog/%2e%2e/admin/users":    "/admin/users",
		"/%64ashboard":                "/dashboard",
		"/images/../admin":            "/admin",
	}
	for raw, canonical := range tests {
		resp := get(t, a, raw, "")
		require.Equal(t, fiber.StatusPermanentRedirect, resp.StatusCode, raw)
		require.Equal(t, canonical, resp.Header.Get(fiber.HeaderLocation), raw)

		resp = get(t, a, canonical, "")
		assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode, canonical)
		assert.Equal(t, "/auth/login?redirectTo="+url.QueryEscape(canonical), resp.Header.Get(fiber.HeaderLocation))
	}

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.URL.Opaque = "/blog/%zz/../admin"
	resp := do(t, a, req)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = get(t, a, "/blog/post", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/blog/post"}, seen)
}

func TestNewRejectsBadSweepSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.App.MemorySweepSchedule = "sometimes"
	_, err := New(context.Background(), cfg, zap.NewNop(), MemoryDependencies())
	assert.Error(t, err)

	cfg.App.MemorySweepSchedule = "@every 1m"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = New(ctx, cfg, zap.NewNop(), MemoryDependencies())
	assert.NoError(t, err)
}
