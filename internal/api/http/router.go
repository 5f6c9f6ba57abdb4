package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/access-gate/internal/api/http/handlers"
	"github.com/spec-kit/access-gate/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Callback       *handlers.CallbackHandler
	Pages          *handlers.PageHandler
	AuthMiddleware *auth.AuthMiddleware
	Gate           fiber.Handler
	Metrics        nethttp.Handler
}

// RegisterRoutes wires HTTP routes. Probes and metrics are registered ahead
// of the gate; every other request passes through it.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	if cfg.Gate != nil {
		app.Use(cfg.Gate)
	}

	v1 := app.Group("/auth/v1")
	v1.Post("/signup", cfg.Auth.SignUp)
	v1.Post("/token", cfg.Auth.Token)
	v1.Post("/logout", cfg.Auth.Logout)
	v1.Get("/session", cfg.Auth.Session)
	v1.Get("/user", cfg.AuthMiddleware.Handle, cfg.Auth.User)
	v1.Get("/authorize", cfg.Auth.Authorize)
	v1.Get("/callback", cfg.Auth.ProviderCallback)
	v1.Post("/callback", cfg.Auth.ProviderCallback)

	app.Get("/auth/callback", cfg.Callback.Handle)

	app.All("/*", cfg.Pages.Serve)
}
