package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/grievance-engine/internal/observability"
	"github.com/spec-kit/grievance-engine/internal/scheduler"
)

// OpsHandler exposes the operational surface: run one sweep on demand and
// read the last sweep's stats.
type OpsHandler struct {
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics
}

// NewOpsHandler constructs handler.
func NewOpsHandler(sched *scheduler.Scheduler, metrics *observability.Metrics) *OpsHandler {
	return &OpsHandler{scheduler: sched, metrics: metrics}
}

// TriggerSweep POST /ops/sweep.
func (h *OpsHandler) TriggerSweep(c *fiber.Ctx) error {
	result, err := h.scheduler.RunSweep(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// SweepStats GET /ops/sweep.
func (h *OpsHandler) SweepStats(c *fiber.Ctx) error {
	runs, updated, failed := h.metrics.SweepTotals()
	return c.JSON(fiber.Map{"data": fiber.Map{
		"last":          h.scheduler.LastResult(),
		"total_runs":    runs,
		"total_updated": updated,
		"total_failed":  failed,
	}})
}
