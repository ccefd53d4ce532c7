package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	ops := app.Group("/ops")
	ops.Post("/auth/login", cfg.Auth.Login)

	protected := ops.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/tickets", auth.RequireRole(auth.RoleViewer, auth.RoleAdmin), cfg.Tickets.List)
	protected.Get("/tickets/:id", auth.RequireRole(auth.RoleViewer, auth.RoleAdmin), cfg.Tickets.Get)
	protected.Delete("/tickets/:id", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.Delete)
	protected.Post("/reconcile", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.Reconcile)
}
