package events

import (
	"time"

	"github.com/spec-kit/grievance-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventPriorityChanged    EventType = "priority_changed"
	EventIssueEscalated     EventType = "issue_escalated"
	EventIssueReopened      EventType = "issue_reopened"
	EventIssueAssigned      EventType = "issue_assigned"
	EventIssueStatusChanged EventType = "issue_status_changed"
	EventIssueMapped        EventType = "issue_mapped"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    domain.SubjectType `json:"type"`
	AgentID *string            `json:"agent_id,omitempty"`
}

// Event represents a domain event emitted by the engine. Delivery to
// connected clients is the realtime transport's problem, not ours.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	IssueID   string      `json:"issue_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// PriorityChangedPayload payload.
type PriorityChangedPayload struct {
	OldPriority domain.IssuePriority `json:"old_priority"`
	NewPriority domain.IssuePriority `json:"new_priority"`
	Automatic   bool                 `json:"automatic"`
}

// IssueEscalatedPayload payload.
type IssueEscalatedPayload struct {
	EscalationLevel int    `json:"escalation_level"`
	Target          string `json:"target"`
}

// IssueReopenedPayload payload.
type IssueReopenedPayload struct {
	Reason string `json:"reason"`
}

// IssueAssignedPayload payload.
type IssueAssignedPayload struct {
	AssigneeID string `json:"assignee_id"`
}

// IssueStatusChangedPayload payload.
type IssueStatusChangedPayload struct {
	OldStatus domain.IssueStatus `json:"old_status"`
	NewStatus domain.IssueStatus `json:"new_status"`
}

// IssueMappedPayload payload.
type IssueMappedPayload struct {
	MappedTypeID    *string `json:"mapped_type_id"`
	MappedSubTypeID *string `json:"mapped_sub_type_id"`
}

// SystemActor labels events produced by the reconciliation sweep.
func SystemActor() Actor {
	return Actor{Type: domain.SubjectTypeSystem}
}

// AgentActor labels events produced by a human agent.
func AgentActor(agentID string) Actor {
	return Actor{Type: domain.SubjectTypeAgent, AgentID: &agentID}
}
