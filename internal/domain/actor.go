package domain

// SubjectType distinguishes who performed an action.
type SubjectType string

const (
	SubjectTypeAgent  SubjectType = "AGENT"
	SubjectTypeSystem SubjectType = "SYSTEM"
)

// SystemActorID identifies the reconciliation sweep in audit entries.
const SystemActorID = "system"
