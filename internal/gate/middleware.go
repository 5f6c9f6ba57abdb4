package gate

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/access-gate/internal/domain"
	apperrors "github.com/spec-kit/access-gate/pkg/util/errorutil"
)

const sessionLocalsKey = "gate_session"

// ResolverFunc builds the resolver bound to one request.
type ResolverFunc func(c *fiber.Ctx) Resolver

// Middleware enforces engine decisions. Redirects are 307 with a Location
// header; allowed requests continue with the resolved session, if any, in
// the request locals. Paths for which skip returns true bypass the gate.
//
// Only canonical paths reach the decision: a path that decodes or cleans to
// something else is answered with a 308 to its canonical form, and a
// malformed one with 400.
func Middleware(engine *Engine, resolvers ResolverFunc, skip func(path string) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Path()
		path, err := CanonicalPath(raw)
		if err != nil {
			return apperrors.NewValidationError("malformed request path", nil)
		}
		if escaped := EscapedPath(path); escaped != raw {
			if q := c.Request().URI().QueryString(); len(q) > 0 {
				escaped += "?" + string(q)
			}
			return c.Redirect(escaped, fiber.StatusPermanentRedirect)
		}

		if skip != nil && skip(path) {
			return c.Next()
		}

		var resolver Resolver
		if resolvers != nil {
			resolver = resolvers(c)
		}

		// Decide decodes its input, so it gets the raw form: decoding path a
		// second time would classify a different path than the upstream sees.
		decision := engine.Decide(c.UserContext(), raw, resolver)
		if !decision.Allowed() {
			return c.Redirect(decision.Location(), fiber.StatusTemporaryRedirect)
		}
		if decision.Session != nil {
			c.Locals(sessionLocalsKey, decision.Session)
		}
		return c.Next()
	}
}

// SessionFromContext returns the session the gate resolved for this request.
func SessionFromContext(c *fiber.Ctx) (*domain.Session, bool) {
	sess, ok := c.Locals(sessionLocalsKey).(*domain.Session)
	return sess, ok && sess != nil
}

var (
	skipPrefixes = []string{"api/webhooks", "_next", "static", "fonts", "images"}
	rootFile     = regexp.MustCompile(`^[\w-]+\.\w+$`)
)

// DefaultSkip excludes webhooks, framework internals, static asset folders
// and root-level files such as /favicon.ico.
func DefaultSkip(path string) bool {
	rest := strings.TrimPrefix(path, "/")
	for _, prefix := range skipPrefixes {
		if rest == prefix || strings.HasPrefix(rest, prefix+"/") {
			return true
		}
	}
	return rootFile.MatchString(rest)
}
