package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Dependency is a backing store the readiness probe reports on. Ping is nil
// for in-memory backends, which are always ready.
type Dependency struct {
	Name    string
	Backend string
	Ping    func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	service string
	version string
	deps    []Dependency
	timeout time.Duration
}

// NewHealthHandler returns a handler probing deps on readiness checks.
func NewHealthHandler(service, version string, deps ...Dependency) *HealthHandler {
	return &HealthHandler{service: service, version: version, deps: deps, timeout: 2 * time.Second}
}

// Live reports that the process is serving.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.service,
		"version": h.version,
	})
}

// Ready pings every configured dependency. Any failure yields 503.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	report := make(fiber.Map, len(h.deps))
	failed := false
	for _, dep := range h.deps {
		entry := fiber.Map{"backend": dep.Backend, "status": "ok"}
		if dep.Ping != nil {
			if err := dep.Ping(ctx); err != nil {
				entry["status"] = err.Error()
				failed = true
			}
		}
		report[dep.Name] = entry
	}

	if failed {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "a session or user store is unreachable",
				"details": report,
			},
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "dependencies": report})
}
