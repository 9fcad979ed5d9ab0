package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/grievance-engine/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Issues         *handlers.IssuesHandler
	Notifications  *handlers.NotificationsHandler
	Ops            *handlers.OpsHandler
	AuthMiddleware fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	issues := app.Group("/issues", cfg.AuthMiddleware)
	issues.Post("/", cfg.Issues.Create)
	issues.Get("/:id", cfg.Issues.Get)
	issues.Post("/:id/status", cfg.Issues.ChangeStatus)
	issues.Post("/:id/priority", cfg.Issues.ChangePriority)
	issues.Post("/:id/assign", cfg.Issues.Assign)
	issues.Post("/:id/map", cfg.Issues.MapType)
	issues.Post("/:id/unmap", cfg.Issues.UnmapType)
	issues.Post("/:id/reopen", cfg.Issues.Reopen)
	issues.Post("/:id/escalate", cfg.Issues.Escalate)
	issues.Get("/:id/audit", cfg.Issues.Audit)
	issues.Get("/:id/sla", cfg.Issues.SLA)

	notifications := app.Group("/notifications", cfg.AuthMiddleware)
	notifications.Get("/", cfg.Notifications.List)
	notifications.Post("/:id/read", cfg.Notifications.MarkRead)

	ops := app.Group("/ops", cfg.AuthMiddleware)
	ops.Post("/sweep", cfg.Ops.TriggerSweep)
	ops.Get("/sweep", cfg.Ops.SweepStats)
}
