package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/api/dto"
	"github.com/spec-kit/access-gate/internal/auth"
	"github.com/spec-kit/access-gate/internal/domain"
	"github.com/spec-kit/access-gate/internal/oauth"
	"github.com/spec-kit/access-gate/internal/service"
	apperrors "github.com/spec-kit/access-gate/pkg/util/errorutil"
)

// CookieConfig controls the session cookie and the OAuth verifier cookie
// derived from it.
type CookieConfig struct {
	Name   string
	Secure bool
}

// VerifierName is the cookie binding an OAuth sign-in to the browser that
// started it.
func (c CookieConfig) VerifierName() string {
	return c.Name + "_oauth_verifier"
}

// AuthHandler exposes the /auth/v1 endpoints.
type AuthHandler struct {
	auth      *service.AuthService
	cookie    CookieConfig
	loginPath string
	logger    *zap.Logger
}

// NewAuthHandler constructs handler. Failed provider round trips send the
// browser to loginPath.
func NewAuthHandler(authService *service.AuthService, cookie CookieConfig, loginPath string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, cookie: cookie, loginPath: loginPath, logger: logger}
}

// SignUp handles POST /auth/v1/signup.
func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req dto.CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	res, err := h.auth.SignUp(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return serviceError(err)
	}
	h.setSessionCookie(c, res)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.NewSessionResponse(res.Session, res.Token, res.User),
	})
}

// Token handles POST /auth/v1/token for password and refresh grants.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if grant := c.Query("grant_type"); grant != "" {
		req.GrantType = grant
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	var (
		res *service.AuthResult
		err error
	)
	switch req.GrantType {
	case dto.GrantRefreshToken:
		token := auth.TokenFromRequest(c, h.cookie.Name)
		if token == "" {
			return apperrors.NewUnauthorized("missing session")
		}
		res, err = h.auth.RefreshSession(c.UserContext(), token)
	default:
		creds := req.Credentials()
		if err := dto.Validate(creds); err != nil {
			return err
		}
		res, err = h.auth.SignInWithPassword(c.UserContext(), creds.Email, creds.Password)
	}
	if err != nil {
		return serviceError(err)
	}

	h.setSessionCookie(c, res)
	return c.JSON(fiber.Map{
		"data": dto.NewSessionResponse(res.Session, res.Token, res.User),
	})
}

// Logout handles POST /auth/v1/logout. It succeeds whether or not a session exists.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if token := auth.TokenFromRequest(c, h.cookie.Name); token != "" {
		sess, err := h.auth.GetSession(c.UserContext(), token)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		if sess != nil {
			if err := h.auth.SignOut(c.UserContext(), sess.ID); err != nil {
				return apperrors.NewInternalError(err)
			}
		}
	}
	h.clearSessionCookie(c)
	return c.SendStatus(http.StatusNoContent)
}

// Session handles GET /auth/v1/session. Without a session data is null.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	token := auth.TokenFromRequest(c, h.cookie.Name)
	if token == "" {
		return c.JSON(fiber.Map{"data": nil})
	}
	sess, err := h.auth.GetSession(c.UserContext(), token)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if sess == nil {
		return c.JSON(fiber.Map{"data": nil})
	}
	user, err := h.auth.GetUser(c.UserContext(), token)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewSessionResponse(sess, "", user)})
}

// User handles GET /auth/v1/user. It runs behind the auth middleware.
func (h *AuthHandler) User(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("missing session")
	}
	user, err := h.auth.GetUser(c.UserContext(), principal.Token)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if user == nil {
		return apperrors.NewUnauthorized("invalid session")
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Authorize handles GET /auth/v1/authorize. It sets the verifier cookie and
// redirects to the provider. With skip_http_redirect=true it only returns,
// as JSON, the URL a browser must open to start the flow itself, since the
// verifier has to land in that browser.
func (h *AuthHandler) Authorize(c *fiber.Ctx) error {
	var q dto.AuthorizeQuery
	if err := c.QueryParser(&q); err != nil {
		return apperrors.NewValidationError("invalid query", nil)
	}
	if err := dto.Validate(q); err != nil {
		return err
	}
	provider := domain.AuthProvider(q.Provider)

	if c.QueryBool("skip_http_redirect") {
		if err := h.auth.CheckProvider(provider); err != nil {
			return serviceError(err)
		}
		query := url.Values{"provider": {q.Provider}}
		if q.RedirectTo != "" {
			query.Set("redirect_to", q.RedirectTo)
		}
		return c.JSON(fiber.Map{"data": fiber.Map{
			"url":      "/auth/v1/authorize?" + query.Encode(),
			"provider": q.Provider,
		}})
	}

	start, err := h.auth.BeginOAuth(c.UserContext(), provider, q.RedirectTo)
	if err != nil {
		return serviceError(err)
	}
	setVerifierCookie(c, h.cookie, start.Verifier, time.Now().Add(h.auth.OAuthStateTTL()))
	return c.Redirect(start.URL, http.StatusFound)
}

// ProviderCallback handles the provider's return to /auth/v1/callback. Apple
// posts the parameters as a form, Google sends them in the query.
func (h *AuthHandler) ProviderCallback(c *fiber.Ctx) error {
	if providerErr := c.FormValue("error"); providerErr != "" {
		h.logger.Info("oauth provider returned an error",
			zap.String("error", providerErr),
			zap.String("description", c.FormValue("error_description")))
		return c.Redirect(h.loginPath, http.StatusSeeOther)
	}

	verifier := c.Cookies(h.cookie.VerifierName())
	target, err := h.auth.CompleteOAuth(c.UserContext(), c.FormValue("state"), c.FormValue("code"), verifier)
	if err != nil {
		h.logger.Warn("oauth callback failed", zap.Error(err))
		return c.Redirect(h.loginPath, http.StatusSeeOther)
	}
	return c.Redirect(target, http.StatusSeeOther)
}

func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, res *service.AuthResult) {
	setSessionCookie(c, h.cookie, res.Token, res.Session.ExpiresAt)
}

func (h *AuthHandler) clearSessionCookie(c *fiber.Ctx) {
	setSessionCookie(c, h.cookie, "", time.Unix(0, 0))
}

func setSessionCookie(c *fiber.Ctx, cfg CookieConfig, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   cfg.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// setVerifierCookie scopes the cookie to /auth so both callbacks see it.
// Apple returns with a cross-site form POST, which only carries SameSite=None
// cookies; browsers accept those on secure cookies only.
func setVerifierCookie(c *fiber.Ctx, cfg CookieConfig, value string, expires time.Time) {
	sameSite := fiber.CookieSameSiteLaxMode
	if cfg.Secure {
		sameSite = fiber.CookieSameSiteNoneMode
	}
	c.Cookie(&fiber.Cookie{
		Name:     cfg.VerifierName(),
		Value:    value,
		Path:     "/auth",
		Expires:  expires,
		Secure:   cfg.Secure,
		HTTPOnly: true,
		SameSite: sameSite,
	})
}

// serviceError maps auth service failures to API errors.
func serviceError(err error) error {
	switch {
	case errors.Is(err, auth.ErrPasswordTooLong):
		return apperrors.NewValidationError("invalid request", map[string]any{"password": "bcrypt_len"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return apperrors.NewInvalidCredentials()
	case errors.Is(err, service.ErrEmailTaken):
		return apperrors.NewConflict("email already registered", nil)
	case errors.Is(err, service.ErrAccountConflict):
		return apperrors.NewConflict(err.Error(), nil)
	case errors.Is(err, service.ErrInvalidSession), errors.Is(err, service.ErrInvalidAuthCode),
		errors.Is(err, service.ErrInvalidState):
		return apperrors.NewUnauthorized(err.Error())
	case errors.Is(err, oauth.ErrUnknownProvider), errors.Is(err, oauth.ErrProviderDisabled):
		return apperrors.NewValidationError("unsupported provider", nil)
	case errors.Is(err, service.ErrProviderFailed):
		return apperrors.NewProviderError("provider", err)
	case errors.Is(err, service.ErrUserNotFound):
		return apperrors.NewUnauthorized("invalid session")
	default:
		return apperrors.NewInternalError(err)
	}
}
