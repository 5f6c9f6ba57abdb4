package domain

import "time"

// AuthProvider identifies how a session was opened.
type AuthProvider string

const (
	ProviderPassword AuthProvider = "password"
	ProviderGoogle   AuthProvider = "google"
	ProviderApple    AuthProvider = "apple"
)

// OAuthProviders lists the providers accepted for redirect-based sign-in.
var OAuthProviders = []AuthProvider{ProviderGoogle, ProviderApple}

// IsOAuth reports whether p is a redirect-based provider.
func (p AuthProvider) IsOAuth() bool {
	for _, known := range OAuthProviders {
		if p == known {
			return true
		}
	}
	return false
}

// Session is server-recognized proof of authentication. The gate only reads it.
type Session struct {
	ID        string
	Subject   string
	Claims    map[string]any
	Provider  AuthProvider
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Claim returns a string claim, or "" when absent.
func (s *Session) Claim(key string) string {
	if s == nil || s.Claims == nil {
		return ""
	}
	v, _ := s.Claims[key].(string)
	return v
}
