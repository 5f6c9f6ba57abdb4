package dto

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/spec-kit/access-gate/internal/auth"
	"github.com/spec-kit/access-gate/internal/domain"
	apperrors "github.com/spec-kit/access-gate/pkg/util/errorutil"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// max counts runes; bcrypt counts bytes.
	_ = v.RegisterValidation("bcrypt_len", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	})
	return v
}

// Grant types accepted by the token endpoint.
const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
)

// CredentialsRequest is the body of sign-up and password sign-in.
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,bcrypt_len"`
}

// TokenRequest is the body of POST /auth/v1/token. Password grants carry
// credentials; refresh grants use the current session token. An empty grant
// type means password.
type TokenRequest struct {
	GrantType string `json:"grant_type" validate:"omitempty,oneof=password refresh_token"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Credentials returns the password grant's credentials.
func (r TokenRequest) Credentials() CredentialsRequest {
	return CredentialsRequest{Email: r.Email, Password: r.Password}
}

// AuthorizeQuery is the query of GET /auth/v1/authorize.
type AuthorizeQuery struct {
	Provider   string `query:"provider" validate:"required,oneof=google apple"`
	RedirectTo string `query:"redirect_to"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"user_metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionResponse is the public view of a session.
type SessionResponse struct {
	AccessToken string              `json:"access_token,omitempty"`
	TokenType   string              `json:"token_type,omitempty"`
	ExpiresAt   time.Time           `json:"expires_at"`
	Provider    domain.AuthProvider `json:"provider"`
	User        *UserResponse       `json:"user,omitempty"`
}

// NewUserResponse maps a user.
func NewUserResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	metadata := u.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &UserResponse{ID: u.ID, Email: u.Email, Metadata: metadata, CreatedAt: u.CreatedAt}
}

// NewSessionResponse maps a session and, when known, its user.
func NewSessionResponse(s *domain.Session, token string, u *domain.User) SessionResponse {
	resp := SessionResponse{
		ExpiresAt: s.ExpiresAt,
		Provider:  s.Provider,
		User:      NewUserResponse(u),
	}
	if token != "" {
		resp.AccessToken = token
		resp.TokenType = "bearer"
	}
	return resp
}

// Validate checks v against its validate tags and reports failures as a
// validation error keyed by field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError("invalid request", nil)
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return apperrors.NewValidationError("invalid request", details)
}
