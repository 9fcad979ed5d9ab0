package scheduler

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
	"github.com/spec-kit/grievance-engine/internal/lifecycle"
	"github.com/spec-kit/grievance-engine/internal/notify"
	"github.com/spec-kit/grievance-engine/internal/observability"
	"github.com/spec-kit/grievance-engine/internal/repository"
	"github.com/spec-kit/grievance-engine/internal/sla"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

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
	scheduler *Scheduler
	service   *lifecycle.Service
	store     *repository.MemoryStore
	clock     *fakeClock
}

// newFixture wires a scheduler over the in-memory store. wrap, when not
// nil, decorates the issue repository so tests can inject faults.
func newFixture(t *testing.T, wrap func(repository.IssueRepository) repository.IssueRepository) *fixture {
	t.Helper()
	clock := &fakeClock{now: at(8, 9, 0)}
	store := repository.NewMemoryStoreWithClock(clock)
	issueRepo := store.Issues()
	if wrap != nil {
		issueRepo = wrap(issueRepo)
	}
	calendar := sla.NewCalendar(config.CalendarConfig{
		StartHour: 9,
		EndHour:   17,
		WorkingDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
	})
	slaCfg := config.SLAConfig{
		MediumAfterHours:   4,
		HighAfterHours:     8,
		CriticalAfterHours: 16,
		ReopenWindowHours:  24,
	}
	logger := zap.NewNop()
	service := lifecycle.NewService(slaCfg, lifecycle.Dependencies{
		IssueRepo:  issueRepo,
		AuditRepo:  store.Audit(),
		Dispatcher: notify.NewDispatcher(store.Notifications(), config.EscalationConfig{TargetCritical: "role:hr_head"}, logger),
		EventBus:   events.NewInMemoryDispatcher(),
		Calendar:   calendar,
		Clock:      clock,
		Locks:      lifecycle.NewIssueLocks(),
		Logger:     logger,
	})
	scheduler := New(config.EscalationConfig{WorkerCount: 4}, Dependencies{
		IssueRepo: issueRepo,
		RuleRepo:  store.Rules(),
		Resolver:  sla.NewResolver(calendar, clock, slaCfg),
		Lifecycle: service,
		Metrics:   observability.NewMetrics(),
		Logger:    logger,
	})
	return &fixture{scheduler: scheduler, service: service, store: store, clock: clock}
}

func (f *fixture) createIssues(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		issue, err := f.service.Create(context.Background(), lifecycle.CreateInput{
			EmployeeID: "emp-1",
			Title:      "Shift dispute",
			Priority:   domain.IssuePriorityLow,
			TypeID:     "scheduling",
		})
		require.NoError(t, err)
		ids = append(ids, issue.ID)
	}
	return ids
}

func TestRunSweepEscalatesAgedIssues(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ids := f.createIssues(t, 3)

	// Two full working days push every issue past the critical mark.
	f.clock.Set(at(10, 9, 0))
	result, err := f.scheduler.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.UpdatedCount)
	assert.Empty(t, result.FailedIDs)

	for _, id := range ids {
		issue, err := f.service.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.IssuePriorityCritical, issue.Priority)
	}
}

func TestRunSweepIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ids := f.createIssues(t, 3)

	f.clock.Set(at(10, 9, 0))
	first, err := f.scheduler.RunSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, first.UpdatedCount)

	before, err := f.service.Get(ctx, ids[0])
	require.NoError(t, err)

	second, err := f.scheduler.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.UpdatedCount, "a converged sweep writes nothing")
	assert.Empty(t, second.FailedIDs)

	after, err := f.service.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt))
}

func TestRunSweepSkipsTerminalIssues(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ids := f.createIssues(t, 2)
	_, err := f.service.ChangeStatus(ctx, ids[0], domain.IssueStatusResolved, "agent-1")
	require.NoError(t, err)

	f.clock.Set(at(10, 9, 0))
	result, err := f.scheduler.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)

	resolved, err := f.service.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.IssuePriorityLow, resolved.Priority)
}

// failingSaveRepo fails every Save for one marked issue.
type failingSaveRepo struct {
	repository.IssueRepository
	failID string
}

func (r *failingSaveRepo) Save(ctx context.Context, issue *domain.Issue, expectedUpdatedAt time.Time) error {
	if issue.ID == r.failID {
		return apperrors.NewPersistenceError(context.DeadlineExceeded)
	}
	return r.IssueRepository.Save(ctx, issue, expectedUpdatedAt)
}

func TestRunSweepIsolatesPerIssueFailures(t *testing.T) {
	var repo *failingSaveRepo
	f := newFixture(t, func(inner repository.IssueRepository) repository.IssueRepository {
		repo = &failingSaveRepo{IssueRepository: inner}
		return repo
	})

	ids := f.createIssues(t, 5)
	repo.failID = ids[2]

	f.clock.Set(at(10, 9, 0))
	result, err := f.scheduler.RunSweep(context.Background())
	require.NoError(t, err, "per-issue failures never fail the sweep")
	assert.Equal(t, 4, result.UpdatedCount)
	assert.Equal(t, []string{ids[2]}, result.FailedIDs)

	stuck, err := f.service.Get(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.IssuePriorityLow, stuck.Priority, "the failed issue is untouched")
}

// blockingListRepo parks ListActive until released, to hold a sweep open.
type blockingListRepo struct {
	repository.IssueRepository
	entered chan struct{}
	release chan struct{}
}

func (r *blockingListRepo) ListActive(ctx context.Context) ([]domain.Issue, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.IssueRepository.ListActive(ctx)
}

func TestRunSweepSingleFlight(t *testing.T) {
	var repo *blockingListRepo
	f := newFixture(t, func(inner repository.IssueRepository) repository.IssueRepository {
		repo = &blockingListRepo{
			IssueRepository: inner,
			entered:         make(chan struct{}),
			release:         make(chan struct{}),
		}
		return repo
	})

	done := make(chan SweepResult, 1)
	go func() {
		result, _ := f.scheduler.RunSweep(context.Background())
		done <- result
	}()
	<-repo.entered // first sweep is now inside ListActive

	// A second sweep while the first holds the lock returns immediately
	// with the previous stats instead of queueing.
	skipped, err := f.scheduler.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, skipped)

	close(repo.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not finish")
	}
	assert.False(t, f.scheduler.LastResult().LastRunAt.IsZero())
}

func TestEscalateUsesActiveRuleForPriority(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ids := f.createIssues(t, 1)

	role := "hr_head"
	f.store.SeedRule(domain.EscalationRule{
		Priority:       domain.IssuePriorityLow,
		EscalateToRole: &role,
		IsActive:       true,
	})

	issue, err := f.scheduler.Escalate(ctx, ids[0], "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, issue.EscalationLevel)

	rows, err := f.store.Notifications().ListByRecipient(ctx, "role:hr_head", false, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEscalateWithoutRuleStillBumpsLevel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ids := f.createIssues(t, 1)

	issue, err := f.scheduler.Escalate(ctx, ids[0], "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, issue.EscalationLevel)

	issue, err = f.scheduler.Escalate(ctx, ids[0], "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, issue.EscalationLevel, "levels accumulate")
}
