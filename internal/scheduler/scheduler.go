package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
	"github.com/spec-kit/grievance-engine/internal/lifecycle"
	"github.com/spec-kit/grievance-engine/internal/observability"
	"github.com/spec-kit/grievance-engine/internal/repository"
	"github.com/spec-kit/grievance-engine/internal/sla"
)

// SweepResult aggregates one reconciliation pass.
type SweepResult struct {
	UpdatedCount int       `json:"updated_count"`
	FailedIDs    []string  `json:"failed_ids"`
	LastRunAt    time.Time `json:"last_run_at"`
}

// Scheduler drives the periodic scan-and-converge sweep over all active
// issues and exposes the manual escalation entry point. Sweeps are
// single-flight: one due while another runs is skipped, not queued.
type Scheduler struct {
	issues    repository.IssueRepository
	rules     repository.EscalationRuleRepository
	resolver  *sla.Resolver
	lifecycle *lifecycle.Service
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       config.EscalationConfig

	cron       *cron.Cron
	initial    *time.Timer
	running    sync.Mutex // held for the duration of a sweep
	resultMu   sync.RWMutex
	lastResult *SweepResult

	ctx    context.Context
	cancel context.CancelFunc
}

// Dependencies bundles collaborators for the scheduler.
type Dependencies struct {
	IssueRepo repository.IssueRepository
	RuleRepo  repository.EscalationRuleRepository
	Resolver  *sla.Resolver
	Lifecycle *lifecycle.Service
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// New constructs the scheduler.
func New(cfg config.EscalationConfig, deps Dependencies) *Scheduler {
	return &Scheduler{
		issues:    deps.IssueRepo,
		rules:     deps.RuleRepo,
		resolver:  deps.Resolver,
		lifecycle: deps.Lifecycle,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Start schedules the periodic sweep. The first run is deliberately
// delayed past process start so it never races initialization.
func (s *Scheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	if _, err := s.cron.AddFunc("@every "+s.cfg.SweepInterval.String(), s.sweepJob); err != nil {
		return err
	}

	s.initial = time.AfterFunc(s.cfg.InitialDelay, s.sweepJob)
	s.cron.Start()
	s.logger.Info("escalation scheduler started",
		zap.Duration("interval", s.cfg.SweepInterval),
		zap.Duration("initial_delay", s.cfg.InitialDelay))
	return nil
}

// Stop signals shutdown and waits for an in-flight sweep's issues to
// finish. No new sweeps start afterwards.
func (s *Scheduler) Stop() {
	if s.initial != nil {
		s.initial.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	// Block until a running sweep drains.
	s.running.Lock()
	s.running.Unlock() //nolint:staticcheck
	s.logger.Info("escalation scheduler stopped")
}

func (s *Scheduler) sweepJob() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.RunSweep(s.ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}
}

// RunSweep executes one reconciliation pass. Per-issue failures are
// collected, never fatal; the aggregate lands in the last-sweep stats.
// Returns immediately when another sweep is in flight.
func (s *Scheduler) RunSweep(ctx context.Context) (SweepResult, error) {
	if !s.running.TryLock() {
		s.logger.Debug("sweep already running; skipping")
		return s.LastResult(), nil
	}
	defer s.running.Unlock()

	started := time.Now()
	issues, err := s.issues.ListActive(ctx)
	if err != nil {
		return SweepResult{LastRunAt: started}, err
	}

	var (
		mu        sync.Mutex
		updated   int
		failedIDs []string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	workers := s.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	group.SetLimit(workers)

	for i := range issues {
		issue := issues[i]
		if issue.Status.Terminal() {
			continue
		}
		group.Go(func() error {
			// Shutdown stops picking up new issues; in-flight ones finish.
			if groupCtx.Err() != nil {
				return nil
			}
			resolved := s.resolver.Resolve(&issue)
			if resolved == issue.Priority {
				return nil
			}
			changed, err := s.lifecycle.ApplyResolvedPriority(groupCtx, issue.ID, resolved)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("sweep issue failed",
					zap.String("issue_id", issue.ID),
					zap.Error(err))
				failedIDs = append(failedIDs, issue.ID)
				return nil
			}
			if changed {
				updated++
			}
			return nil
		})
	}
	_ = group.Wait()

	result := SweepResult{
		UpdatedCount: updated,
		FailedIDs:    failedIDs,
		LastRunAt:    started,
	}
	s.resultMu.Lock()
	s.lastResult = &result
	s.resultMu.Unlock()

	s.metrics.RecordSweep(updated, len(failedIDs))
	s.logger.Info("sweep completed",
		zap.Int("scanned", len(issues)),
		zap.Int("updated", updated),
		zap.Int("failed", len(failedIDs)),
		zap.Duration("took", time.Since(started)))
	return result, nil
}

// LastResult returns the most recent sweep stats; zero value before the
// first sweep.
func (s *Scheduler) LastResult() SweepResult {
	s.resultMu.RLock()
	defer s.resultMu.RUnlock()
	if s.lastResult == nil {
		return SweepResult{}
	}
	return *s.lastResult
}

// Escalate handles the manual "escalate now" action: the lifecycle service
// resolves the active EscalationRule for the issue's priority under the
// issue lock and writes through the same audit/notification path as the
// sweep.
func (s *Scheduler) Escalate(ctx context.Context, issueID, actorID string) (*domain.Issue, error) {
	return s.lifecycle.Escalate(ctx, issueID, actorID, s.rules)
}

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("cron", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("cron", keysAndValues))
}
