package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/access-gate/internal/config"
	"github.com/spec-kit/access-gate/internal/domain"
)

func newTokenServer(t *testing.T, claims jwt.MapClaims) *httptest.Server {
	t.Helper()
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-key"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func providerConfig(srv *httptest.Server) config.OAuthProviderConfig {
	return config.OAuthProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
	}
}

func TestIdentifyReadsIDToken(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t, jwt.MapClaims{"sub": "g-123", "email": " Ada@Example.com ", "email_verified": true})
	p := NewGoogle(providerConfig(srv), "https://app.example.com/auth/v1/callback")

	id, err := p.Identify(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, Identity{
		Provider:       domain.ProviderGoogle,
		ProviderUserID: "g-123",
		Email:          "ada@example.com",
		EmailVerified:  true,
	}, id)
}

func TestIdentifyAppleStringVerified(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t, jwt.MapClaims{"sub": "a-1", "email": "x@privaterelay.appleid.com", "email_verified": "true"})
	p := NewApple(providerConfig(srv), "https://app.example.com/auth/v1/callback")

	id, err := p.Identify(context.Background(), "good-code")
	require.NoError(t, err)
	assert.True(t, id.EmailVerified)
	assert.Equal(t, domain.ProviderApple, id.Provider)
}

func TestIdentifyRejectsBadCode(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t, jwt.MapClaims{"sub": "g-1"})
	p := NewGoogle(providerConfig(srv), "https://app.example.com/auth/v1/callback")

	_, err := p.Identify(context.Background(), "bad-code")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = p.Identify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestAuthCodeURL(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t, jwt.MapClaims{"sub": "x"})

	u, err := url.Parse(NewGoogle(providerConfig(srv), "https://app.example.com/cb").AuthCodeURL("st"))
	require.NoError(t, err)
	assert.Equal(t, "st", u.Query().Get("state"))
	assert.Equal(t, "https://app.example.com/cb", u.Query().Get("redirect_uri"))
	assert.Empty(t, u.Query().Get("response_mode"))

	u, err = url.Parse(NewApple(providerConfig(srv), "https://app.example.com/cb").AuthCodeURL("st"))
	require.NoError(t, err)
	assert.Equal(t, "form_post", u.Query().Get("response_mode"))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(config.OAuthConfig{
		Google: config.OAuthProviderConfig{ClientID: "id", ClientSecret: "secret"},
	}, "https://app.example.com/auth/v1/callback")

	p, err := r.Get(domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGoogle, p.Name())

	_, err = r.Get(domain.ProviderApple)
	assert.ErrorIs(t, err, ErrProviderDisabled)

	_, err = r.Get("github")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestMemoryTicketStore(t *testing.T) {
	t.Parallel()

	type payload struct {
		RedirectTo string `json:"redirect_to"`
	}

	s := NewMemoryTicketStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", payload{RedirectTo: "/dashboard"}, time.Minute))

	var got payload
	require.NoError(t, s.Take(ctx, "k", &got))
	assert.Equal(t, "/dashboard", got.RedirectTo)

	assert.ErrorIs(t, s.Take(ctx, "k", &got), ErrTicketNotFound)

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, "old", payload{}, time.Second))
	s.now = func() time.Time { return now.Add(2 * time.Second) }
	assert.ErrorIs(t, s.Take(ctx, "old", &got), ErrTicketNotFound)

	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, "a", payload{}, time.Second))
	require.NoError(t, s.Put(ctx, "b", payload{}, time.Hour))
	s.now = func() time.Time { return now.Add(time.Minute) }
	assert.Equal(t, 1, s.Purge())
	require.NoError(t, s.Take(ctx, "b", &got))
}

func TestNewTicketIsRandom(t *testing.T) {
	t.Parallel()

	a, err := NewTicket()
	require.NoError(t, err)
	b, err := NewTicket()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

func TestVerifier(t *testing.T) {
	t.Parallel()

	verifier, hash, err := NewVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, hash)

	assert.True(t, VerifierMatches(verifier, hash))
	assert.False(t, VerifierMatches(verifier+"x", hash))
	assert.False(t, VerifierMatches("", hash))
	assert.False(t, VerifierMatches(verifier, ""))

	// RFC 7636 appendix B.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", HashVerifier("dBjftJeZ4CVP-mJ0H9rQHiutXbgXqLEDsnW0ySIlNhM"))
}
