package dto

import (
	"time"

	"github.com/spec-kit/grievance-engine/internal/domain"
	"github.com/spec-kit/grievance-engine/internal/sla"
)

// CreateIssueRequest payload.
type CreateIssueRequest struct {
	EmployeeID  string               `json:"employee_id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Priority    domain.IssuePriority `json:"priority"`
	TypeID      string               `json:"type_id"`
	SubTypeID   string               `json:"sub_type_id"`
}

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status domain.IssueStatus `json:"status"`
}

// ChangePriorityRequest payload.
type ChangePriorityRequest struct {
	Priority domain.IssuePriority `json:"priority"`
}

// AssignRequest payload.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

// MapTypeRequest payload.
type MapTypeRequest struct {
	TypeID    string `json:"type_id"`
	SubTypeID string `json:"sub_type_id"`
}

// ReopenRequest payload.
type ReopenRequest struct {
	Reason string `json:"reason"`
}

// IssueResponse is the full issue representation.
type IssueResponse struct {
	ID                 string               `json:"id"`
	EmployeeID         string               `json:"employee_id"`
	Title              string               `json:"title"`
	Description        string               `json:"description"`
	Status             domain.IssueStatus   `json:"status"`
	Priority           domain.IssuePriority `json:"priority"`
	TypeID             string               `json:"type_id"`
	SubTypeID          string               `json:"sub_type_id"`
	EffectiveTypeID    string               `json:"effective_type_id"`
	EffectiveSubTypeID string               `json:"effective_sub_type_id"`
	MappedTypeID       *string              `json:"mapped_type_id,omitempty"`
	MappedSubTypeID    *string              `json:"mapped_sub_type_id,omitempty"`
	MappedAt           *time.Time           `json:"mapped_at,omitempty"`
	MappedBy           *string              `json:"mapped_by,omitempty"`
	AssignedTo         *string              `json:"assigned_to,omitempty"`
	AssignedAt         *time.Time           `json:"assigned_at,omitempty"`
	EscalationLevel    int                  `json:"escalation_level"`
	EscalatedAt        *time.Time           `json:"escalated_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	ClosedAt           *time.Time           `json:"closed_at,omitempty"`
}

// FromIssue converts the domain aggregate.
func FromIssue(issue *domain.Issue) IssueResponse {
	return IssueResponse{
		ID:                 issue.ID,
		EmployeeID:         issue.EmployeeID,
		Title:              issue.Title,
		Description:        issue.Description,
		Status:             issue.Status,
		Priority:           issue.Priority,
		TypeID:             issue.TypeID,
		SubTypeID:          issue.SubTypeID,
		EffectiveTypeID:    issue.EffectiveTypeID(),
		EffectiveSubTypeID: issue.EffectiveSubTypeID(),
		MappedTypeID:       issue.MappedTypeID,
		MappedSubTypeID:    issue.MappedSubTypeID,
		MappedAt:           issue.MappedAt,
		MappedBy:           issue.MappedBy,
		AssignedTo:         issue.AssignedTo,
		AssignedAt:         issue.AssignedAt,
		EscalationLevel:    issue.EscalationLevel,
		EscalatedAt:        issue.EscalatedAt,
		CreatedAt:          issue.CreatedAt,
		UpdatedAt:          issue.UpdatedAt,
		ClosedAt:           issue.ClosedAt,
	}
}

// SLAResponse reports an issue's SLA classification.
type SLAResponse struct {
	IssueID        string               `json:"issue_id"`
	Priority       domain.IssuePriority `json:"priority"`
	Bucket         sla.Bucket           `json:"bucket"`
	AgeHours       float64              `json:"age_hours"`
	ThresholdHours float64              `json:"threshold_hours"`
}

// AuditEntryResponse represents one trail entry.
type AuditEntryResponse struct {
	ID             string              `json:"id"`
	IssueID        string              `json:"issue_id"`
	Action         domain.AuditAction  `json:"action"`
	ActorID        string              `json:"actor_id"`
	PreviousStatus *domain.IssueStatus `json:"previous_status,omitempty"`
	NewStatus      *domain.IssueStatus `json:"new_status,omitempty"`
	Details        map[string]any      `json:"details,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// FromAuditEntry converts a trail entry.
func FromAuditEntry(entry domain.AuditTrailEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:             entry.ID,
		IssueID:        entry.IssueID,
		Action:         entry.Action,
		ActorID:        entry.ActorID,
		PreviousStatus: entry.PreviousStatus,
		NewStatus:      entry.NewStatus,
		Details:        entry.Details,
		CreatedAt:      entry.CreatedAt,
	}
}

// NotificationResponse represents a notification row.
type NotificationResponse struct {
	ID          string    `json:"id"`
	IssueID     string    `json:"issue_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromNotification converts a notification row.
func FromNotification(notification domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          notification.ID,
		IssueID:     notification.IssueID,
		RecipientID: notification.RecipientID,
		Content:     notification.Content,
		IsRead:      notification.IsRead,
		CreatedAt:   notification.CreatedAt,
	}
}
