package domain

import "time"

// IssueStatus enumerates lifecycle states for grievance issues.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "OPEN"
	IssueStatusInProgress IssueStatus = "IN_PROGRESS"
	IssueStatusResolved   IssueStatus = "RESOLVED"
	IssueStatusClosed     IssueStatus = "CLOSED"
)

// Terminal reports whether the status is past active handling.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusResolved || s == IssueStatusClosed
}

// IssuePriority enumerates SLA urgency.
type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "LOW"
	IssuePriorityMedium   IssuePriority = "MEDIUM"
	IssuePriorityHigh     IssuePriority = "HIGH"
	IssuePriorityCritical IssuePriority = "CRITICAL"
)

// priorityRank orders priorities for escalation comparison.
var priorityRank = map[IssuePriority]int{
	IssuePriorityLow:      1,
	IssuePriorityMedium:   2,
	IssuePriorityHigh:     3,
	IssuePriorityCritical: 4,
}

// Rank returns the priority's position in the escalation order; unknown
// values rank below LOW.
func (p IssuePriority) Rank() int {
	return priorityRank[p]
}

// Valid reports whether p is one of the four enum values.
func (p IssuePriority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// TypeOthers is the generic catch-all issue type. Only issues carrying it
// may be mapped onto a concrete type later.
const TypeOthers = "others"

// Issue is the aggregate for HR grievances. The engine exclusively owns
// status, priority and escalation fields; comments and attachments belong
// to collaborator services.
type Issue struct {
	ID              string
	EmployeeID      string
	Title           string
	Description     string
	Status          IssueStatus
	Priority        IssuePriority
	TypeID          string
	SubTypeID       string
	MappedTypeID    *string
	MappedSubTypeID *string
	MappedAt        *time.Time
	MappedBy        *string
	AssignedTo      *string
	AssignedAt      *time.Time
	EscalationLevel int
	EscalatedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// EffectiveTypeID returns the mapped type when present, else the raw type.
// All SLA grouping and analytics must consume this form.
func (i *Issue) EffectiveTypeID() string {
	if i.MappedTypeID != nil {
		return *i.MappedTypeID
	}
	return i.TypeID
}

// EffectiveSubTypeID returns the mapped subtype when present.
func (i *Issue) EffectiveSubTypeID() string {
	if i.MappedSubTypeID != nil {
		return *i.MappedSubTypeID
	}
	return i.SubTypeID
}

// Mapped reports whether the issue has been mapped onto a concrete type.
func (i *Issue) Mapped() bool {
	return i.MappedTypeID != nil
}

// AgeBasis returns the timestamp priority resolution ages from: the later
// of creation and last assignment.
func (i *Issue) AgeBasis() time.Time {
	if i.AssignedAt != nil && i.AssignedAt.After(i.CreatedAt) {
		return *i.AssignedAt
	}
	return i.CreatedAt
}
