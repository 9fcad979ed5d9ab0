package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
	"github.com/spec-kit/grievance-engine/internal/events"
	"github.com/spec-kit/grievance-engine/internal/notify"
	"github.com/spec-kit/grievance-engine/internal/repository"
	"github.com/spec-kit/grievance-engine/internal/sla"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// allowedTransitions is the status machine. Reopen is handled separately
// because it carries the working-time window check.
var allowedTransitions = map[domain.IssueStatus][]domain.IssueStatus{
	domain.IssueStatusOpen:       {domain.IssueStatusInProgress, domain.IssueStatusResolved},
	domain.IssueStatusInProgress: {domain.IssueStatusResolved},
	domain.IssueStatusResolved:   {domain.IssueStatusClosed},
	domain.IssueStatusClosed:     {},
}

func isValidTransition(current, next domain.IssueStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Service owns the issue status/priority state machine. Every mutating
// action takes the per-issue lock, saves with the optimistic updated_at
// guard (retrying once on a lost race), appends an audit entry, and fans
// out notifications and domain events.
type Service struct {
	issues     repository.IssueRepository
	audit      repository.AuditRepository
	dispatcher *notify.Dispatcher
	eventBus   events.Dispatcher
	calendar   *sla.Calendar
	clock      sla.Clock
	locks      *IssueLocks
	logger     *zap.Logger

	reopenWindowHours float64
}

// Dependencies bundles collaborators for the lifecycle service.
type Dependencies struct {
	IssueRepo  repository.IssueRepository
	AuditRepo  repository.AuditRepository
	Dispatcher *notify.Dispatcher
	EventBus   events.Dispatcher
	Calendar   *sla.Calendar
	Clock      sla.Clock
	Locks      *IssueLocks
	Logger     *zap.Logger
}

// CreateInput describes issue creation payload.
type CreateInput struct {
	EmployeeID  string
	Title       string
	Description string
	Priority    domain.IssuePriority
	TypeID      string
	SubTypeID   string
}

// NewService constructs the service.
func NewService(cfg config.SLAConfig, deps Dependencies) *Service {
	return &Service{
		issues:            deps.IssueRepo,
		audit:             deps.AuditRepo,
		dispatcher:        deps.Dispatcher,
		eventBus:          deps.EventBus,
		calendar:          deps.Calendar,
		clock:             deps.Clock,
		locks:             deps.Locks,
		logger:            deps.Logger,
		reopenWindowHours: cfg.ReopenWindowHours,
	}
}

// errNoop signals that a mutation turned out to be a no-op: no save, no
// audit, no notification.
var errNoop = errors.New("no-op")

type postCommit func(ctx context.Context, issue *domain.Issue)

// mutate loads the issue under its lock, applies fn, saves with the
// optimistic guard and runs fn's post-commit hook. A CONFLICT from the
// store gets one retry against the fresh row, then surfaces.
func (s *Service) mutate(ctx context.Context, issueID string, fn func(issue *domain.Issue) (postCommit, error)) (*domain.Issue, error) {
	unlock := s.locks.Lock(issueID)
	defer unlock()

	attempt := func() (*domain.Issue, error) {
		issue, err := s.issues.GetByID(ctx, issueID)
		if err != nil {
			return nil, err
		}
		after, err := fn(issue)
		if err != nil {
			if errors.Is(err, errNoop) {
				return issue, nil
			}
			return nil, err
		}
		expected := issue.UpdatedAt
		if err := s.issues.Save(ctx, issue, expected); err != nil {
			return nil, err
		}
		if after != nil {
			after(ctx, issue)
		}
		return issue, nil
	}

	issue, err := attempt()
	if err != nil && apperrors.IsCode(err, "CONFLICT") {
		issue, err = attempt()
	}
	return issue, err
}

// Create registers a new issue in status OPEN. Priority defaults to MEDIUM
// when the caller does not pick one.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Issue, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, apperrors.NewValidationError("title required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.IssuePriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	issue := &domain.Issue{
		EmployeeID:  input.EmployeeID,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Status:      domain.IssueStatusOpen,
		Priority:    priority,
		TypeID:      input.TypeID,
		SubTypeID:   input.SubTypeID,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.issues.Create(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// Get fetches an issue.
func (s *Service) Get(ctx context.Context, issueID string) (*domain.Issue, error) {
	return s.issues.GetByID(ctx, issueID)
}

// AuditTrail lists the issue's trail entries in apply order.
func (s *Service) AuditTrail(ctx context.Context, issueID string, limit, offset int) ([]domain.AuditTrailEntry, error) {
	if _, err := s.issues.GetByID(ctx, issueID); err != nil {
		return nil, err
	}
	return s.audit.ListByIssue(ctx, issueID, limit, offset)
}

// ChangeStatus moves the issue along the status machine. Entering RESOLVED
// or CLOSED stamps closedAt.
func (s *Service) ChangeStatus(ctx context.Context, issueID string, newStatus domain.IssueStatus, actorID string) (*domain.Issue, error) {
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if !isValidTransition(issue.Status, newStatus) {
			return nil, apperrors.NewInvalidTransition(string(issue.Status), string(newStatus))
		}
		oldStatus := issue.Status
		issue.Status = newStatus
		if newStatus.Terminal() {
			now := s.clock.Now()
			issue.ClosedAt = &now
		} else {
			issue.ClosedAt = nil
		}
		return func(ctx context.Context, issue *domain.Issue) {
			s.recordAudit(ctx, issue.ID, domain.AuditStatusChanged, actorID, &oldStatus, &issue.Status, nil)
			s.publish(ctx, events.Event{
				Type:    events.EventIssueStatusChanged,
				IssueID: issue.ID,
				Actor:   events.AgentActor(actorID),
				Payload: events.IssueStatusChangedPayload{OldStatus: oldStatus, NewStatus: issue.Status},
			})
		}, nil
	})
}

// Close is the RESOLVED→CLOSED convenience transition.
func (s *Service) Close(ctx context.Context, issueID, actorID string) (*domain.Issue, error) {
	return s.ChangeStatus(ctx, issueID, domain.IssueStatusClosed, actorID)
}

// ChangePriority sets the issue's priority by hand. Unchanged priority is
// a strict no-op: no write, no audit, no notification.
func (s *Service) ChangePriority(ctx context.Context, issueID string, newPriority domain.IssuePriority, actorID string) (*domain.Issue, error) {
	if !newPriority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": newPriority})
	}
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		return s.applyPriority(issue, newPriority, actorID, false)
	})
}

// ApplyResolvedPriority is the sweep's write path. It re-reads the issue
// under its lock and only ever raises: a priority that converged, or was
// manually raised past the computed value in the meantime, becomes a clean
// no-op instead of a demotion. Reports whether a write happened.
func (s *Service) ApplyResolvedPriority(ctx context.Context, issueID string, newPriority domain.IssuePriority) (bool, error) {
	changed := false
	_, err := s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if issue.Status.Terminal() {
			return nil, errNoop
		}
		if newPriority.Rank() <= issue.Priority.Rank() {
			return nil, errNoop
		}
		after, err := s.applyPriority(issue, newPriority, domain.SystemActorID, true)
		if err != nil {
			return nil, err
		}
		changed = true
		return after, nil
	})
	return changed, err
}

func (s *Service) applyPriority(issue *domain.Issue, newPriority domain.IssuePriority, actorID string, automatic bool) (postCommit, error) {
	if issue.Priority == newPriority {
		return nil, errNoop
	}
	oldPriority := issue.Priority
	issue.Priority = newPriority
	escalated := newPriority.Rank() > oldPriority.Rank()

	return func(ctx context.Context, issue *domain.Issue) {
		s.recordAudit(ctx, issue.ID, domain.AuditPriorityChanged, actorID, nil, nil, map[string]any{
			"old_priority": oldPriority,
			"new_priority": newPriority,
			"automatic":    automatic,
		})
		if escalated {
			_, _ = s.dispatcher.Dispatch(ctx, issue, notify.Transition{
				Kind:        notify.TransitionPriorityEscalated,
				OldPriority: oldPriority,
				NewPriority: newPriority,
			})
		}
		actor := events.AgentActor(actorID)
		if automatic {
			actor = events.SystemActor()
		}
		s.publish(ctx, events.Event{
			Type:    events.EventPriorityChanged,
			IssueID: issue.ID,
			Actor:   actor,
			Payload: events.PriorityChangedPayload{OldPriority: oldPriority, NewPriority: newPriority, Automatic: automatic},
		})
	}, nil
}

// Assign sets the assignee. Always audits and always notifies the new
// assignee, even when reassigning to the same agent.
func (s *Service) Assign(ctx context.Context, issueID, agentID, actorID string) (*domain.Issue, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, apperrors.NewValidationError("agent_id required", nil)
	}
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if issue.Status.Terminal() {
			return nil, apperrors.NewInvalidTransition(string(issue.Status), string(issue.Status))
		}
		previous := issue.AssignedTo
		now := s.clock.Now()
		issue.AssignedTo = &agentID
		issue.AssignedAt = &now
		return func(ctx context.Context, issue *domain.Issue) {
			s.recordAudit(ctx, issue.ID, domain.AuditAssigned, actorID, nil, nil, map[string]any{
				"previous_assignee": previous,
				"assignee":          agentID,
			})
			_, _ = s.dispatcher.Dispatch(ctx, issue, notify.Transition{
				Kind:       notify.TransitionAssigned,
				AssigneeID: agentID,
			})
			s.publish(ctx, events.Event{
				Type:    events.EventIssueAssigned,
				IssueID: issue.ID,
				Actor:   events.AgentActor(actorID),
				Payload: events.IssueAssignedPayload{AssigneeID: agentID},
			})
		}, nil
	})
}

// MapType maps an "others"-typed issue onto a concrete type/subtype.
func (s *Service) MapType(ctx context.Context, issueID, newTypeID, newSubTypeID, actorID string) (*domain.Issue, error) {
	if strings.TrimSpace(newTypeID) == "" {
		return nil, apperrors.NewValidationError("type_id required", nil)
	}
	if newTypeID == domain.TypeOthers {
		return nil, apperrors.NewInvalidMapping("cannot map onto the others type", nil)
	}
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if issue.TypeID != domain.TypeOthers {
			return nil, apperrors.NewInvalidMapping("only others-typed issues can be mapped", map[string]any{
				"type_id": issue.TypeID,
			})
		}
		now := s.clock.Now()
		issue.MappedTypeID = &newTypeID
		issue.MappedSubTypeID = &newSubTypeID
		issue.MappedAt = &now
		issue.MappedBy = &actorID
		return func(ctx context.Context, issue *domain.Issue) {
			s.recordAudit(ctx, issue.ID, domain.AuditMapped, actorID, nil, nil, map[string]any{
				"mapped_type_id":     newTypeID,
				"mapped_sub_type_id": newSubTypeID,
			})
			s.publish(ctx, events.Event{
				Type:    events.EventIssueMapped,
				IssueID: issue.ID,
				Actor:   events.AgentActor(actorID),
				Payload: events.IssueMappedPayload{MappedTypeID: issue.MappedTypeID, MappedSubTypeID: issue.MappedSubTypeID},
			})
		}, nil
	})
}

// UnmapType clears a previous mapping; the effective type falls back to
// the raw type.
func (s *Service) UnmapType(ctx context.Context, issueID, actorID string) (*domain.Issue, error) {
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if !issue.Mapped() {
			return nil, apperrors.NewInvalidMapping("issue is not mapped", nil)
		}
		previousType := issue.MappedTypeID
		issue.MappedTypeID = nil
		issue.MappedSubTypeID = nil
		issue.MappedAt = nil
		issue.MappedBy = nil
		return func(ctx context.Context, issue *domain.Issue) {
			s.recordAudit(ctx, issue.ID, domain.AuditUnmapped, actorID, nil, nil, map[string]any{
				"previous_mapped_type_id": previousType,
			})
			s.publish(ctx, events.Event{
				Type:    events.EventIssueMapped,
				IssueID: issue.ID,
				Actor:   events.AgentActor(actorID),
				Payload: events.IssueMappedPayload{},
			})
		}, nil
	})
}

// Reopen returns a resolved/closed issue to OPEN when the working-time
// reopen window has not elapsed. Escalation level is deliberately kept.
func (s *Service) Reopen(ctx context.Context, issueID, reason, actorID string) (*domain.Issue, error) {
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if !issue.Status.Terminal() {
			return nil, apperrors.NewInvalidTransition(string(issue.Status), string(domain.IssueStatusOpen))
		}
		if issue.ClosedAt == nil {
			return nil, apperrors.NewInvalidTransition(string(issue.Status), string(domain.IssueStatusOpen))
		}
		elapsed, err := s.calendar.WorkingHours(*issue.ClosedAt, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if elapsed > s.reopenWindowHours {
			return nil, apperrors.NewWindowElapsed("reopen window elapsed", map[string]any{
				"closed_at":           issue.ClosedAt,
				"elapsed_hours":       elapsed,
				"reopen_window_hours": s.reopenWindowHours,
			})
		}
		oldStatus := issue.Status
		issue.Status = domain.IssueStatusOpen
		issue.ClosedAt = nil
		return func(ctx context.Context, issue *domain.Issue) {
			s.recordAudit(ctx, issue.ID, domain.AuditReopened, actorID, &oldStatus, &issue.Status, map[string]any{
				"reason": reason,
			})
			_, _ = s.dispatcher.Dispatch(ctx, issue, notify.Transition{
				Kind:   notify.TransitionReopened,
				Reason: reason,
			})
			s.publish(ctx, events.Event{
				Type:    events.EventIssueReopened,
				IssueID: issue.ID,
				Actor:   events.AgentActor(actorID),
				Payload: events.IssueReopenedPayload{Reason: reason},
			})
		}, nil
	})
}

// Escalate is the manual escalation entry point: bumps the escalation
// level, stamps escalatedAt, notifies the matching rule's target and writes
// through the same audit path as everything else. The rule lookup happens
// under the issue lock so it always matches the priority being escalated,
// not a stale pre-lock read.
func (s *Service) Escalate(ctx context.Context, issueID, actorID string, rules repository.EscalationRuleRepository) (*domain.Issue, error) {
	return s.mutate(ctx, issueID, func(issue *domain.Issue) (postCommit, error) {
		if issue.Status.Terminal() {
			return nil, apperrors.NewInvalidTransition(string(issue.Status), string(issue.Status))
		}
		target := ""
		if rules != nil {
			matched, err := rules.RulesFor(ctx, issue.Priority)
			if err != nil {
				return nil, err
			}
			if len(matched) > 0 {
				target = matched[0].TargetRecipient()
			}
		}
		now := s.clock.Now()
		issue.EscalationLevel++
		issue.EscalatedAt = &now
		return func(ctx context.Context, issue *domain.Issue) {
			s.recordAudit(ctx, issue.ID, domain.AuditEscalated, actorID, nil, nil, map[string]any{
				"escalation_level": issue.EscalationLevel,
				"target":           target,
				"manual":           true,
			})
			_, _ = s.dispatcher.Dispatch(ctx, issue, notify.Transition{
				Kind:   notify.TransitionManualEscalation,
				Target: target,
			})
			s.publish(ctx, events.Event{
				Type:    events.EventIssueEscalated,
				IssueID: issue.ID,
				Actor:   events.AgentActor(actorID),
				Payload: events.IssueEscalatedPayload{EscalationLevel: issue.EscalationLevel, Target: target},
			})
		}, nil
	})
}

func (s *Service) recordAudit(ctx context.Context, issueID string, action domain.AuditAction, actorID string, previous, next *domain.IssueStatus, details map[string]any) {
	entry := &domain.AuditTrailEntry{
		IssueID:        issueID,
		Action:         action,
		ActorID:        actorID,
		PreviousStatus: previous,
		NewStatus:      next,
		Details:        details,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("issue_id", issueID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery failed",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
