package domain

import "time"

// EscalationRule is externally supplied configuration resolving a manual
// escalation to a target. Read-only to the engine.
type EscalationRule struct {
	ID                 string
	Priority           IssuePriority
	EscalateAfterHours float64
	EscalateToRole     *string
	EscalateToUser     *string
	IsActive           bool
	CreatedAt          time.Time
}

// TargetRecipient resolves the rule's notification recipient. Explicit user
// targets win over role targets; role targets are addressed with a "role:"
// prefix for the transport to fan out.
func (r *EscalationRule) TargetRecipient() string {
	if r.EscalateToUser != nil && *r.EscalateToUser != "" {
		return *r.EscalateToUser
	}
	if r.EscalateToRole != nil && *r.EscalateToRole != "" {
		return "role:" + *r.EscalateToRole
	}
	return ""
}
