package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/spec-kit/access-gate/internal/config"
	"github.com/spec-kit/access-gate/internal/domain"
)

var (
	ErrUnknownProvider  = errors.New("oauth: unknown provider")
	ErrProviderDisabled = errors.New("oauth: provider not configured")
	ErrInvalidCode      = errors.New("oauth: invalid authorization code")
	ErrMissingIDToken   = errors.New("oauth: token response has no id_token")
)

// AppleEndpoint is Sign in with Apple's OAuth 2.0 endpoint.
var AppleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Identity is what a provider tells us about the person signing in.
type Identity struct {
	Provider       domain.AuthProvider
	ProviderUserID string
	Email          string
	EmailVerified  bool
}

// Provider is one social sign-in backend.
type Provider interface {
	Name() domain.AuthProvider
	AuthCodeURL(state string) string
	Identify(ctx context.Context, code string) (Identity, error)
}

type oidcProvider struct {
	name    domain.AuthProvider
	conf    *oauth2.Config
	options []oauth2.AuthCodeOption
}

// NewGoogle builds the Google provider. Endpoint URLs in cfg override the defaults.
func NewGoogle(cfg config.OAuthProviderConfig, redirectURL string) Provider {
	return &oidcProvider{
		name: domain.ProviderGoogle,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email"},
			Endpoint:     endpoint(google.Endpoint, cfg),
		},
	}
}

// NewApple builds the Sign in with Apple provider. Apple posts the callback
// as a form when the email scope is requested.
func NewApple(cfg config.OAuthProviderConfig, redirectURL string) Provider {
	return &oidcProvider{
		name: domain.ProviderApple,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"email"},
			Endpoint:     endpoint(AppleEndpoint, cfg),
		},
		options: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "form_post")},
	}
}

func endpoint(base oauth2.Endpoint, cfg config.OAuthProviderConfig) oauth2.Endpoint {
	if cfg.AuthURL != "" {
		base.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		base.TokenURL = cfg.TokenURL
	}
	return base
}

func (p *oidcProvider) Name() domain.AuthProvider {
	return p.name
}

func (p *oidcProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, p.options...)
}

// Identify exchanges code at the token endpoint and reads the identity from
// the returned id_token. The token comes straight from the provider over
// TLS, so its signature is not checked again here.
func (p *oidcProvider) Identify(ctx context.Context, code string) (Identity, error) {
	if code == "" {
		return Identity{}, ErrInvalidCode
	}
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return Identity{}, ErrMissingIDToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("parse id_token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, errors.New("oauth: id_token has no subject")
	}
	email, _ := claims["email"].(string)

	return Identity{
		Provider:       p.name,
		ProviderUserID: sub,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		EmailVerified:  verified(claims["email_verified"]),
	}, nil
}

// Apple sends email_verified as the string "true".
func verified(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	}
	return false
}

// Registry holds the configured providers.
type Registry map[domain.AuthProvider]Provider

// NewRegistry registers every provider that has credentials.
func NewRegistry(cfg config.OAuthConfig, callbackURL string) Registry {
	r := Registry{}
	if cfg.Google.Enabled() {
		r.Register(NewGoogle(cfg.Google, callbackURL))
	}
	if cfg.Apple.Enabled() {
		r.Register(NewApple(cfg.Apple, callbackURL))
	}
	return r
}

// Register adds or replaces a provider.
func (r Registry) Register(p Provider) {
	r[p.Name()] = p
}

// Get looks up a provider by name.
func (r Registry) Get(name domain.AuthProvider) (Provider, error) {
	if !name.IsOAuth() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, name)
	}
	return p, nil
}
