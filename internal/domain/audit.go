package domain

import "time"

// AuditAction captures what a trail entry records.
type AuditAction string

const (
	AuditStatusChanged   AuditAction = "status_changed"
	AuditPriorityChanged AuditAction = "priority_changed"
	AuditAssigned        AuditAction = "assigned"
	AuditMapped          AuditAction = "mapped"
	AuditUnmapped        AuditAction = "unmapped"
	AuditEscalated       AuditAction = "escalated"
	// AuditCommentAdded is written by the comment collaborator service;
	// the engine only reads it back when serving the trail.
	AuditCommentAdded AuditAction = "comment_added"
	AuditReopened     AuditAction = "reopened"
)

// AuditTrailEntry is an immutable record of a mutating action. Entries are
// appended once and never updated or deleted; the engine never reads its
// own trail to make decisions.
type AuditTrailEntry struct {
	ID             string
	IssueID        string
	Action         AuditAction
	ActorID        string
	PreviousStatus *IssueStatus
	NewStatus      *IssueStatus
	Details        map[string]any
	CreatedAt      time.Time
}
