package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/gate"
	"github.com/spec-kit/access-gate/internal/service"
)

// CallbackHandler serves the app's OAuth callback, GET /auth/callback.
type CallbackHandler struct {
	auth            *service.AuthService
	cookie          CookieConfig
	loginPath       string
	defaultRedirect string
	logger          *zap.Logger
}

// NewCallbackHandler constructs handler.
func NewCallbackHandler(authService *service.AuthService, cookie CookieConfig, loginPath, defaultRedirect string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		auth:            authService,
		cookie:          cookie,
		loginPath:       loginPath,
		defaultRedirect: defaultRedirect,
		logger:          logger,
	}
}

// Handle exchanges code for a session and sends the browser on to
// redirectTo. The code only redeems together with the verifier cookie set
// when this browser started the flow. Without a code, or when the exchange
// fails, the browser goes to the login page.
func (h *CallbackHandler) Handle(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Redirect(h.loginPath, http.StatusSeeOther)
	}

	verifier := c.Cookies(h.cookie.VerifierName())
	setVerifierCookie(c, h.cookie, "", time.Unix(0, 0))

	res, err := h.auth.ExchangeCodeForSession(c.UserContext(), code, verifier)
	if err != nil {
		h.logger.Warn("auth code exchange failed", zap.Error(err))
		return c.Redirect(h.loginPath, http.StatusSeeOther)
	}

	setSessionCookie(c, h.cookie, res.Token, res.Session.ExpiresAt)
	return c.Redirect(gate.SafeRedirect(c.Query("redirectTo"), h.defaultRedirect), http.StatusSeeOther)
}
