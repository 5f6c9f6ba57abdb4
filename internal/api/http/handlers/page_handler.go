package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"

	"github.com/spec-kit/access-gate/internal/gate"
	apperrors "github.com/spec-kit/access-gate/pkg/util/errorutil"
)

// Headers the gate sets on proxied requests. Client-supplied copies are dropped.
const (
	HeaderAuthUser    = "X-Auth-User"
	HeaderAuthSession = "X-Auth-Session"
)

// PageHandler serves everything the gate let through, either by proxying to
// the upstream renderer or, without one, with a JSON placeholder.
type PageHandler struct {
	upstream string
}

// NewPageHandler constructs handler. An empty upstream selects placeholder mode.
func NewPageHandler(upstream string) *PageHandler {
	return &PageHandler{upstream: strings.TrimRight(upstream, "/")}
}

// Serve handles a gated page request. The upstream always receives the
// canonical path the gate classified.
func (h *PageHandler) Serve(c *fiber.Ctx) error {
	c.Request().Header.Del(HeaderAuthUser)
	c.Request().Header.Del(HeaderAuthSession)

	sess, ok := gate.SessionFromContext(c)
	if ok {
		c.Request().Header.Set(HeaderAuthUser, sess.Subject)
		c.Request().Header.Set(HeaderAuthSession, sess.ID)
	}

	path, err := gate.CanonicalPath(c.Path())
	if err != nil {
		return apperrors.NewValidationError("malformed request path", nil)
	}

	if h.upstream != "" {
		target := h.upstream + gate.EscapedPath(path)
		if q := c.Request().URI().QueryString(); len(q) > 0 {
			target += "?" + string(q)
		}
		return proxy.Do(c, target)
	}

	page := fiber.Map{"page": path}
	if ok {
		page["user_id"] = sess.Subject
	}
	return c.JSON(fiber.Map{"data": page})
}
