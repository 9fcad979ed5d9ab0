package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/grievance-engine/internal/api/dto"
	"github.com/spec-kit/grievance-engine/internal/auth"
	"github.com/spec-kit/grievance-engine/internal/lifecycle"
	"github.com/spec-kit/grievance-engine/internal/scheduler"
	"github.com/spec-kit/grievance-engine/internal/sla"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// IssuesHandler serves the manual-action surface of the engine.
type IssuesHandler struct {
	lifecycle *lifecycle.Service
	scheduler *scheduler.Scheduler
	calendar  *sla.Calendar
	policy    *sla.Policy
	clock     sla.Clock
}

// NewIssuesHandler constructs handler.
func NewIssuesHandler(lc *lifecycle.Service, sched *scheduler.Scheduler, calendar *sla.Calendar, policy *sla.Policy, clock sla.Clock) *IssuesHandler {
	return &IssuesHandler{
		lifecycle: lc,
		scheduler: sched,
		calendar:  calendar,
		policy:    policy,
		clock:     clock,
	}
}

// Create POST /issues.
func (h *IssuesHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.CreateIssueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	employeeID := req.EmployeeID
	if employeeID == "" {
		employeeID = principal.AgentID
	}
	issue, err := h.lifecycle.Create(c.UserContext(), lifecycle.CreateInput{
		EmployeeID:  employeeID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		TypeID:      req.TypeID,
		SubTypeID:   req.SubTypeID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// Get GET /issues/:id.
func (h *IssuesHandler) Get(c *fiber.Ctx) error {
	issue, err := h.lifecycle.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// ChangeStatus POST /issues/:id/status.
func (h *IssuesHandler) ChangeStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.lifecycle.ChangeStatus(c.UserContext(), c.Params("id"), req.Status, principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// ChangePriority POST /issues/:id/priority.
func (h *IssuesHandler) ChangePriority(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.ChangePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.lifecycle.ChangePriority(c.UserContext(), c.Params("id"), req.Priority, principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// Assign POST /issues/:id/assign.
func (h *IssuesHandler) Assign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.lifecycle.Assign(c.UserContext(), c.Params("id"), req.AgentID, principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// MapType POST /issues/:id/map.
func (h *IssuesHandler) MapType(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.MapTypeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.lifecycle.MapType(c.UserContext(), c.Params("id"), req.TypeID, req.SubTypeID, principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// UnmapType POST /issues/:id/unmap.
func (h *IssuesHandler) UnmapType(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	issue, err := h.lifecycle.UnmapType(c.UserContext(), c.Params("id"), principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// Reopen POST /issues/:id/reopen.
func (h *IssuesHandler) Reopen(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	var req dto.ReopenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.lifecycle.Reopen(c.UserContext(), c.Params("id"), req.Reason, principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// Escalate POST /issues/:id/escalate.
func (h *IssuesHandler) Escalate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	issue, err := h.scheduler.Escalate(c.UserContext(), c.Params("id"), principal.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromIssue(issue)})
}

// Audit GET /issues/:id/audit.
func (h *IssuesHandler) Audit(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)
	entries, err := h.lifecycle.AuditTrail(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.FromAuditEntry(entry))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SLA GET /issues/:id/sla.
func (h *IssuesHandler) SLA(c *fiber.Ctx) error {
	issue, err := h.lifecycle.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	now := h.clock.Now()
	bucket := h.policy.Classify(issue.CreatedAt, issue.ClosedAt, now, issue.Priority)
	ageEnd := now
	if issue.ClosedAt != nil {
		ageEnd = *issue.ClosedAt
	}
	age, err := h.calendar.WorkingHours(issue.CreatedAt, ageEnd)
	if err != nil {
		age = 0
	}
	return c.JSON(fiber.Map{"data": dto.SLAResponse{
		IssueID:        issue.ID,
		Priority:       issue.Priority,
		Bucket:         bucket,
		AgeHours:       age,
		ThresholdHours: h.policy.Threshold(issue.Priority),
	}})
}
