package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/grievance-engine/internal/api/dto"
	"github.com/spec-kit/grievance-engine/internal/auth"
	"github.com/spec-kit/grievance-engine/internal/repository"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// NotificationsHandler serves a recipient's notification feed.
type NotificationsHandler struct {
	notifications repository.NotificationRepository
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(notifications repository.NotificationRepository) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications}
}

// List GET /notifications.
func (h *NotificationsHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	unreadOnly := c.QueryBool("unread", false)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	rows, err := h.notifications.ListByRecipient(c.UserContext(), principal.AgentID, unreadOnly, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.NotificationResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.FromNotification(row))
	}
	return c.JSON(fiber.Map{"data": items})
}

// MarkRead POST /notifications/:id/read. Recipients may only flip their
// own rows.
func (h *NotificationsHandler) MarkRead(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("agent required")
	}
	if err := h.notifications.MarkRead(c.UserContext(), c.Params("id"), principal.AgentID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": c.Params("id"), "is_read": true}})
}
