package sla

import (
	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
)

// Resolver computes the priority an issue should currently hold from its
// elapsed working age. The critical override at the configured working-hour
// mark dominates the ladder; it is the primary escalation guarantee.
type Resolver struct {
	calendar      *Calendar
	clock         Clock
	mediumAfter   float64
	highAfter     float64
	criticalAfter float64
}

// NewResolver builds a resolver with configured ladder breakpoints.
func NewResolver(calendar *Calendar, clock Clock, cfg config.SLAConfig) *Resolver {
	return &Resolver{
		calendar:      calendar,
		clock:         clock,
		mediumAfter:   cfg.MediumAfterHours,
		highAfter:     cfg.HighAfterHours,
		criticalAfter: cfg.CriticalAfterHours,
	}
}

// Resolve returns the correct priority for the issue. Terminal issues keep
// their priority untouched. The result never ranks below the issue's
// current priority, so a manually raised priority sticks between sweeps.
func (r *Resolver) Resolve(issue *domain.Issue) domain.IssuePriority {
	if issue.Status.Terminal() {
		return issue.Priority
	}

	age, err := r.calendar.WorkingHours(issue.AgeBasis(), r.clock.Now())
	if err != nil {
		// Clock behind the issue's own timestamps; treat as zero age.
		age = 0
	}

	if age >= r.criticalAfter {
		return domain.IssuePriorityCritical
	}

	computed := r.ladder(age)
	current := issue.Priority
	if !current.Valid() {
		// Fail-safe: anything outside the enum clamps to HIGH.
		current = domain.IssuePriorityHigh
	}
	if current.Rank() > computed.Rank() {
		return current
	}
	return computed
}

func (r *Resolver) ladder(age float64) domain.IssuePriority {
	switch {
	case age >= r.highAfter:
		return domain.IssuePriorityHigh
	case age >= r.mediumAfter:
		return domain.IssuePriorityMedium
	default:
		return domain.IssuePriorityLow
	}
}
