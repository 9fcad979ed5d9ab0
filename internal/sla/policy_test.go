package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
)

func testSLAConfig() config.SLAConfig {
	return config.SLAConfig{
		CriticalThresholdHours: 4,
		HighThresholdHours:     24,
		MediumThresholdHours:   48,
		LowThresholdHours:      72,
		AtRiskFactor:           0.8,
		MediumAfterHours:       4,
		HighAfterHours:         8,
		CriticalAfterHours:     16,
		ReopenWindowHours:      24,
	}
}

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	return NewPolicy(NewCalendar(testCalendarConfig()), testSLAConfig())
}

func TestThreshold(t *testing.T) {
	policy := newTestPolicy(t)

	assert.Equal(t, 4.0, policy.Threshold(domain.IssuePriorityCritical))
	assert.Equal(t, 24.0, policy.Threshold(domain.IssuePriorityHigh))
	assert.Equal(t, 48.0, policy.Threshold(domain.IssuePriorityMedium))
	assert.Equal(t, 72.0, policy.Threshold(domain.IssuePriorityLow))

	// Anything outside the enum falls back to the medium budget.
	assert.Equal(t, 48.0, policy.Threshold(domain.IssuePriority("URGENT")))
}

func TestClassifyOpenIssues(t *testing.T) {
	policy := newTestPolicy(t)
	createdAt := day(8, 9, 0) // Monday 09:00

	tests := []struct {
		name     string
		now      time.Time
		priority domain.IssuePriority
		want     Bucket
	}{
		{
			name:     "fresh critical is pending",
			now:      day(8, 10, 0),
			priority: domain.IssuePriorityCritical,
			want:     BucketPending,
		},
		{
			name:     "critical past eighty percent is at risk",
			now:      day(8, 12, 30), // 3.5h of a 4h budget
			priority: domain.IssuePriorityCritical,
			want:     BucketAtRisk,
		},
		{
			name:     "critical at exact threshold is not breached",
			now:      day(8, 13, 0), // exactly 4h
			priority: domain.IssuePriorityCritical,
			want:     BucketAtRisk,
		},
		{
			name:     "critical past threshold is breached",
			now:      day(8, 13, 1),
			priority: domain.IssuePriorityCritical,
			want:     BucketBreached,
		},
		{
			name:     "high within budget across days",
			now:      day(9, 17, 0), // 16h of a 24h budget
			priority: domain.IssuePriorityHigh,
			want:     BucketPending,
		},
		{
			name:     "high breached after four working days",
			now:      day(11, 17, 0), // 32h
			priority: domain.IssuePriorityHigh,
			want:     BucketBreached,
		},
		{
			name:     "unknown priority classified on medium budget",
			now:      day(12, 17, 0), // 40h; medium budget is 48h, 80% is 38.4h
			priority: domain.IssuePriority("URGENT"),
			want:     BucketAtRisk,
		},
		{
			name:     "clock behind creation stays pending",
			now:      day(8, 8, 0),
			priority: domain.IssuePriorityLow,
			want:     BucketPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Classify(createdAt, nil, tt.now, tt.priority)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyClosedIssues(t *testing.T) {
	policy := newTestPolicy(t)
	createdAt := day(8, 9, 0)

	closedInBudget := day(8, 12, 0) // 3h
	got := policy.Classify(createdAt, &closedInBudget, day(20, 9, 0), domain.IssuePriorityCritical)
	assert.Equal(t, BucketOnTime, got, "how long ago it closed must not matter")

	closedAtBudget := day(8, 13, 0) // exactly 4h
	got = policy.Classify(createdAt, &closedAtBudget, day(20, 9, 0), domain.IssuePriorityCritical)
	assert.Equal(t, BucketOnTime, got)

	closedLate := day(9, 9, 0) // 8h
	got = policy.Classify(createdAt, &closedLate, day(20, 9, 0), domain.IssuePriorityCritical)
	assert.Equal(t, BucketBreached, got)
}
