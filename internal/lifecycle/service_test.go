package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
	"github.com/spec-kit/grievance-engine/internal/events"
	"github.com/spec-kit/grievance-engine/internal/notify"
	"github.com/spec-kit/grievance-engine/internal/repository"
	"github.com/spec-kit/grievance-engine/internal/sla"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// 2024-01-08 is a Monday.
func at(dayOfMonth, hour, minute int) time.Time {
	return time.Date(2024, time.January, dayOfMonth, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	service *Service
	store   *repository.MemoryStore
	clock   *fakeClock
	bus     events.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock(at(8, 9, 0))
	store := repository.NewMemoryStoreWithClock(clock)
	calendar := sla.NewCalendar(config.CalendarConfig{
		StartHour: 9,
		EndHour:   17,
		WorkingDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
	})
	logger := zap.NewNop()
	dispatcher := notify.NewDispatcher(store.Notifications(), config.EscalationConfig{
		DefaultRecipient: "role:hr_manager",
		TargetCritical:   "role:hr_head",
		TargetHigh:       "role:hr_manager",
		TargetMedium:     "role:hr_manager",
	}, logger)
	bus := events.NewInMemoryDispatcher()
	service := NewService(config.SLAConfig{ReopenWindowHours: 24}, Dependencies{
		IssueRepo:  store.Issues(),
		AuditRepo:  store.Audit(),
		Dispatcher: dispatcher,
		EventBus:   bus,
		Calendar:   calendar,
		Clock:      clock,
		Locks:      NewIssueLocks(),
		Logger:     logger,
	})
	return &fixture{service: service, store: store, clock: clock, bus: bus}
}

func (f *fixture) createIssue(t *testing.T, typeID string) *domain.Issue {
	t.Helper()
	issue, err := f.service.Create(context.Background(), CreateInput{
		EmployeeID: "emp-1",
		Title:      "Unfair overtime allocation",
		Priority:   domain.IssuePriorityMedium,
		TypeID:     typeID,
	})
	require.NoError(t, err)
	return issue
}

func (f *fixture) auditEntries(t *testing.T, issueID string) []domain.AuditTrailEntry {
	t.Helper()
	entries, err := f.store.Audit().ListByIssue(context.Background(), issueID, 0, 0)
	require.NoError(t, err)
	return entries
}

func (f *fixture) notificationsFor(t *testing.T, recipientID string) []domain.Notification {
	t.Helper()
	rows, err := f.store.Notifications().ListByRecipient(context.Background(), recipientID, false, 0, 0)
	require.NoError(t, err)
	return rows
}

func TestChangeStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []domain.IssueStatus
		next    domain.IssueStatus
		allowed bool
	}{
		{name: "open to in_progress", next: domain.IssueStatusInProgress, allowed: true},
		{name: "open straight to resolved", next: domain.IssueStatusResolved, allowed: true},
		{name: "open to closed", next: domain.IssueStatusClosed, allowed: false},
		{
			name:    "in_progress to resolved",
			path:    []domain.IssueStatus{domain.IssueStatusInProgress},
			next:    domain.IssueStatusResolved,
			allowed: true,
		},
		{
			name:    "in_progress back to open",
			path:    []domain.IssueStatus{domain.IssueStatusInProgress},
			next:    domain.IssueStatusOpen,
			allowed: false,
		},
		{
			name:    "resolved to closed",
			path:    []domain.IssueStatus{domain.IssueStatusResolved},
			next:    domain.IssueStatusClosed,
			allowed: true,
		},
		{
			name:    "resolved back to in_progress",
			path:    []domain.IssueStatus{domain.IssueStatusResolved},
			next:    domain.IssueStatusInProgress,
			allowed: false,
		},
		{
			name:    "closed is final",
			path:    []domain.IssueStatus{domain.IssueStatusResolved, domain.IssueStatusClosed},
			next:    domain.IssueStatusInProgress,
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			issue := f.createIssue(t, "payroll")
			ctx := context.Background()

			for _, step := range tt.path {
				_, err := f.service.ChangeStatus(ctx, issue.ID, step, "agent-1")
				require.NoError(t, err)
			}

			updated, err := f.service.ChangeStatus(ctx, issue.ID, tt.next, "agent-1")
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.next, updated.Status)
			} else {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, "INVALID_TRANSITION"))
			}
		})
	}
}

func TestChangeStatusStampsClosedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	f.clock.Set(at(8, 14, 0))
	updated, err := f.service.ChangeStatus(ctx, issue.ID, domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, updated.ClosedAt)
	assert.True(t, updated.ClosedAt.Equal(at(8, 14, 0)))

	entries := f.auditEntries(t, issue.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditStatusChanged, entries[0].Action)
	require.NotNil(t, entries[0].PreviousStatus)
	assert.Equal(t, domain.IssueStatusOpen, *entries[0].PreviousStatus)
}

func TestChangePriorityNoopHasZeroSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	before, err := f.service.Get(ctx, issue.ID)
	require.NoError(t, err)

	updated, err := f.service.ChangePriority(ctx, issue.ID, domain.IssuePriorityMedium, "agent-1")
	require.NoError(t, err)

	assert.True(t, updated.UpdatedAt.Equal(before.UpdatedAt), "no-op must not advance updated_at")
	assert.Empty(t, f.auditEntries(t, issue.ID))
	assert.Empty(t, f.notificationsFor(t, "role:hr_manager"))
}

func TestChangePriorityEscalationNotifiesAssigneeAndTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	_, err := f.service.Assign(ctx, issue.ID, "agent-7", "agent-1")
	require.NoError(t, err)

	updated, err := f.service.ChangePriority(ctx, issue.ID, domain.IssuePriorityHigh, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IssuePriorityHigh, updated.Priority)

	entries := f.auditEntries(t, issue.ID)
	require.Len(t, entries, 2) // assignment, then the priority change
	assert.Equal(t, domain.AuditPriorityChanged, entries[1].Action)
	assert.Equal(t, false, entries[1].Details["automatic"])

	// Assignee got the assignment notification plus the escalation one.
	assert.Len(t, f.notificationsFor(t, "agent-7"), 2)
	assert.Len(t, f.notificationsFor(t, "role:hr_manager"), 1)
}

func TestChangePriorityLoweringAuditsWithoutNotifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	_, err := f.service.ChangePriority(ctx, issue.ID, domain.IssuePriorityLow, "agent-1")
	require.NoError(t, err)

	entries := f.auditEntries(t, issue.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditPriorityChanged, entries[0].Action)
	assert.Empty(t, f.notificationsFor(t, "role:hr_manager"))
}

func TestChangePriorityRejectsUnknownValue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "payroll")

	_, err := f.service.ChangePriority(context.Background(), issue.ID, domain.IssuePriority("P1"), "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))
}

func TestAssignAlwaysAuditsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	for i := 0; i < 2; i++ {
		updated, err := f.service.Assign(ctx, issue.ID, "agent-7", "agent-1")
		require.NoError(t, err)
		require.NotNil(t, updated.AssignedTo)
		assert.Equal(t, "agent-7", *updated.AssignedTo)
		require.NotNil(t, updated.AssignedAt)
	}

	assert.Len(t, f.auditEntries(t, issue.ID), 2, "reassigning the same agent still audits")
	assert.Len(t, f.notificationsFor(t, "agent-7"), 2)
}

func TestAssignTerminalIssueRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	_, err := f.service.ChangeStatus(ctx, issue.ID, domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err)

	_, err = f.service.Assign(ctx, issue.ID, "agent-7", "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "INVALID_TRANSITION"))
}

func TestMapTypeRestrictedToOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	concrete := f.createIssue(t, "payroll")
	_, err := f.service.MapType(ctx, concrete.ID, "harassment", "verbal", "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "INVALID_MAPPING"))

	generic := f.createIssue(t, domain.TypeOthers)
	_, err = f.service.MapType(ctx, generic.ID, domain.TypeOthers, "", "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "INVALID_MAPPING"), "mapping onto others is circular")
}

func TestMapAndUnmapRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, domain.TypeOthers)

	mapped, err := f.service.MapType(ctx, issue.ID, "harassment", "verbal", "agent-1")
	require.NoError(t, err)
	assert.True(t, mapped.Mapped())
	assert.Equal(t, "harassment", mapped.EffectiveTypeID())
	assert.Equal(t, "verbal", mapped.EffectiveSubTypeID())
	assert.Equal(t, domain.TypeOthers, mapped.TypeID, "raw type survives mapping")

	unmapped, err := f.service.UnmapType(ctx, issue.ID, "agent-1")
	require.NoError(t, err)
	assert.False(t, unmapped.Mapped())
	assert.Equal(t, domain.TypeOthers, unmapped.EffectiveTypeID())

	_, err = f.service.UnmapType(ctx, issue.ID, "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "INVALID_MAPPING"))

	entries := f.auditEntries(t, issue.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditMapped, entries[0].Action)
	assert.Equal(t, domain.AuditUnmapped, entries[1].Action)
}

func TestReopenWithinWorkingTimeWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	_, err := f.service.ChangeStatus(ctx, issue.ID, domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err) // closed Monday 09:00

	// 24 working hours after Monday 09:00 is Wednesday 17:00. Overnight
	// hours between Wednesday 17:00 and Thursday 09:00 do not count, so the
	// boundary holds until Thursday morning.
	f.clock.Set(at(11, 9, 0))
	reopened, err := f.service.Reopen(ctx, issue.ID, "not actually fixed", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)

	// Unassigned reopen falls back to the default recipient.
	rows := f.notificationsFor(t, "role:hr_manager")
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Content, "reopened")
}

func TestReopenWindowElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	_, err := f.service.ChangeStatus(ctx, issue.ID, domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err)

	// One working minute past the 24-hour window. The rejection is a
	// transition error, not a conflict: retrying will never succeed.
	f.clock.Set(at(11, 9, 1))
	_, err = f.service.Reopen(ctx, issue.ID, "too late", "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "INVALID_TRANSITION"))
}

func TestReopenKeepsEscalationLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	role := "hr_head"
	f.store.SeedRule(domain.EscalationRule{
		Priority:       domain.IssuePriorityMedium,
		EscalateToRole: &role,
		IsActive:       true,
	})
	_, err := f.service.Escalate(ctx, issue.ID, "agent-1", f.store.Rules())
	require.NoError(t, err)

	_, err = f.service.ChangeStatus(ctx, issue.ID, domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err)

	f.clock.Set(at(8, 12, 0))
	reopened, err := f.service.Reopen(ctx, issue.ID, "", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.EscalationLevel, "history survives the reopen")
}

func TestReopenNonTerminalRejected(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "payroll")

	_, err := f.service.Reopen(context.Background(), issue.ID, "", "agent-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "INVALID_TRANSITION"))
}

func TestEscalateBumpsLevelAndNotifiesTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	_, err := f.service.Assign(ctx, issue.ID, "agent-7", "agent-1")
	require.NoError(t, err)

	user := "hr-lead-1"
	f.store.SeedRule(domain.EscalationRule{
		Priority:       domain.IssuePriorityMedium,
		EscalateToUser: &user,
		IsActive:       true,
	})
	updated, err := f.service.Escalate(ctx, issue.ID, "agent-1", f.store.Rules())
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EscalationLevel)
	require.NotNil(t, updated.EscalatedAt)

	assert.Len(t, f.notificationsFor(t, "hr-lead-1"), 1)

	entries := f.auditEntries(t, issue.ID)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.AuditEscalated, last.Action)
	assert.Equal(t, true, last.Details["manual"])
	assert.Equal(t, "hr-lead-1", last.Details["target"])
}

func TestApplyResolvedPriorityPublishesSystemEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	var published []events.Event
	f.bus.Subscribe(events.EventPriorityChanged, func(_ context.Context, e events.Event) error {
		published = append(published, e)
		return nil
	})

	changed, err := f.service.ApplyResolvedPriority(ctx, issue.ID, domain.IssuePriorityCritical)
	require.NoError(t, err)
	assert.True(t, changed)

	require.Len(t, published, 1)
	assert.Equal(t, domain.SubjectTypeSystem, published[0].Actor.Type)

	// Critical escalation routes to the critical target.
	assert.Len(t, f.notificationsFor(t, "role:hr_head"), 1)
}

func TestApplyResolvedPriorityConvergedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	changed, err := f.service.ApplyResolvedPriority(ctx, issue.ID, domain.IssuePriorityMedium)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, f.auditEntries(t, issue.ID))
}

func TestApplyResolvedPriorityTerminalIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")
	_, err := f.service.ChangeStatus(ctx, issue.ID, domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err)

	changed, err := f.service.ApplyResolvedPriority(ctx, issue.ID, domain.IssuePriorityCritical)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := f.service.Get(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssuePriorityMedium, stored.Priority)
}

func TestApplyResolvedPriorityNeverDemotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, err := f.service.Create(ctx, CreateInput{
		EmployeeID: "emp-1",
		Title:      "Unfair overtime allocation",
		Priority:   domain.IssuePriorityLow,
		TypeID:     "payroll",
	})
	require.NoError(t, err)

	// An agent raises the priority between the sweep's snapshot and its
	// write; the stale computed value must lose.
	_, err = f.service.ChangePriority(ctx, issue.ID, domain.IssuePriorityCritical, "agent-1")
	require.NoError(t, err)

	changed, err := f.service.ApplyResolvedPriority(ctx, issue.ID, domain.IssuePriorityMedium)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := f.service.Get(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssuePriorityCritical, stored.Priority)
	assert.Len(t, f.auditEntries(t, issue.ID), 1, "only the manual raise is on the trail")
}

func TestEscalateResolvesRuleForCurrentPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	mediumRole := "hr_manager"
	highRole := "hr_head"
	f.store.SeedRule(domain.EscalationRule{
		Priority:       domain.IssuePriorityMedium,
		EscalateToRole: &mediumRole,
		IsActive:       true,
	})
	f.store.SeedRule(domain.EscalationRule{
		Priority:       domain.IssuePriorityHigh,
		EscalateToRole: &highRole,
		IsActive:       true,
	})

	_, err := f.service.Escalate(ctx, issue.ID, "agent-1", f.store.Rules())
	require.NoError(t, err)
	assert.Len(t, f.notificationsFor(t, "role:hr_manager"), 1)

	// After a priority change, the lookup tracks the issue's new priority.
	_, err = f.service.ChangePriority(ctx, issue.ID, domain.IssuePriorityHigh, "agent-1")
	require.NoError(t, err)
	_, err = f.service.Escalate(ctx, issue.ID, "agent-1", f.store.Rules())
	require.NoError(t, err)
	assert.Len(t, f.notificationsFor(t, "role:hr_head"), 1)
}

// conflictOnceRepo makes the first Save lose the optimistic race, as if
// another writer got there first.
type conflictOnceRepo struct {
	repository.IssueRepository
	mu    sync.Mutex
	fired bool
	saves int
}

func (r *conflictOnceRepo) Save(ctx context.Context, issue *domain.Issue, expectedUpdatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if !r.fired {
		r.fired = true
		return apperrors.NewConflict("issue modified concurrently", nil)
	}
	return r.IssueRepository.Save(ctx, issue, expectedUpdatedAt)
}

func TestMutateRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t, "payroll")

	repo := &conflictOnceRepo{IssueRepository: f.store.Issues()}
	service := NewService(config.SLAConfig{ReopenWindowHours: 24}, Dependencies{
		IssueRepo:  repo,
		AuditRepo:  f.store.Audit(),
		Dispatcher: notify.NewDispatcher(f.store.Notifications(), config.EscalationConfig{}, zap.NewNop()),
		EventBus:   events.NewInMemoryDispatcher(),
		Calendar:   sla.NewCalendar(config.CalendarConfig{StartHour: 9, EndHour: 17, WorkingDays: []time.Weekday{time.Monday}}),
		Clock:      f.clock,
		Locks:      NewIssueLocks(),
		Logger:     zap.NewNop(),
	})

	updated, err := service.ChangeStatus(ctx, issue.ID, domain.IssueStatusInProgress, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusInProgress, updated.Status)
	assert.Equal(t, 2, repo.saves, "exactly one retry")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, CreateInput{EmployeeID: "emp-1", Title: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))

	issue, err := f.service.Create(ctx, CreateInput{EmployeeID: "emp-1", Title: "Missing payslip"})
	require.NoError(t, err)
	assert.Equal(t, domain.IssuePriorityMedium, issue.Priority, "priority defaults to medium")
	assert.Equal(t, domain.IssueStatusOpen, issue.Status)
	assert.NotEmpty(t, issue.ID)
}
