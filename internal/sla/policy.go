package sla

import (
	"time"

	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
)

// Bucket classifies an issue's adherence to its priority threshold.
type Bucket string

const (
	BucketOnTime   Bucket = "onTime"
	BucketAtRisk   Bucket = "atRisk"
	BucketBreached Bucket = "breached"
	BucketPending  Bucket = "pending"
)

// Policy maps priority to an escalation threshold in working hours and
// classifies issues against it. Total: Classify never fails for any input.
type Policy struct {
	calendar     *Calendar
	thresholds   map[domain.IssuePriority]float64
	atRiskFactor float64
}

// NewPolicy builds a policy from the configured threshold table.
func NewPolicy(calendar *Calendar, cfg config.SLAConfig) *Policy {
	return &Policy{
		calendar: calendar,
		thresholds: map[domain.IssuePriority]float64{
			domain.IssuePriorityCritical: cfg.CriticalThresholdHours,
			domain.IssuePriorityHigh:     cfg.HighThresholdHours,
			domain.IssuePriorityMedium:   cfg.MediumThresholdHours,
			domain.IssuePriorityLow:      cfg.LowThresholdHours,
		},
		atRiskFactor: cfg.AtRiskFactor,
	}
}

// Threshold returns the working-hour budget for the given priority.
// Unknown priorities fall back to the medium budget so classification
// stays total.
func (p *Policy) Threshold(priority domain.IssuePriority) float64 {
	if hours, ok := p.thresholds[priority]; ok {
		return hours
	}
	return p.thresholds[domain.IssuePriorityMedium]
}

// Classify buckets an issue against its priority threshold. Closed issues
// are judged on their resolution time; open issues on their current age.
func (p *Policy) Classify(createdAt time.Time, closedAt *time.Time, now time.Time, priority domain.IssuePriority) Bucket {
	threshold := p.Threshold(priority)

	if closedAt != nil {
		elapsed, err := p.calendar.WorkingHours(createdAt, *closedAt)
		if err != nil {
			return BucketOnTime
		}
		if elapsed <= threshold {
			return BucketOnTime
		}
		return BucketBreached
	}

	age, err := p.calendar.WorkingHours(createdAt, now)
	if err != nil {
		return BucketPending
	}
	switch {
	case age > threshold:
		return BucketBreached
	case age > p.atRiskFactor*threshold:
		return BucketAtRisk
	default:
		return BucketPending
	}
}
