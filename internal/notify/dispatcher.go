package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/domain"
	"github.com/spec-kit/grievance-engine/internal/repository"
)

// TransitionKind selects the recipient-resolution rule.
type TransitionKind string

const (
	TransitionPriorityEscalated TransitionKind = "priority_escalated"
	TransitionAssigned          TransitionKind = "assigned"
	TransitionReopened          TransitionKind = "reopened"
	TransitionManualEscalation  TransitionKind = "manual_escalation"
)

// Transition describes the change a notification is about.
type Transition struct {
	Kind        TransitionKind
	OldPriority domain.IssuePriority
	NewPriority domain.IssuePriority
	AssigneeID  string
	Target      string
	Reason      string
}

// Dispatcher resolves who is notified for a transition and persists one
// Notification row per recipient. Recipient resolution is pure; closely
// spaced re-escalations may notify the same recipient repeatedly.
type Dispatcher struct {
	notifications    repository.NotificationRepository
	targets          map[domain.IssuePriority]string
	defaultRecipient string
	logger           *zap.Logger
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(notifications repository.NotificationRepository, cfg config.EscalationConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		targets: map[domain.IssuePriority]string{
			domain.IssuePriorityCritical: cfg.TargetCritical,
			domain.IssuePriorityHigh:     cfg.TargetHigh,
			domain.IssuePriorityMedium:   cfg.TargetMedium,
			domain.IssuePriorityLow:      cfg.TargetLow,
		},
		defaultRecipient: cfg.DefaultRecipient,
		logger:           logger,
	}
}

// Recipients resolves who receives a notification for the transition.
// Pure: no side effects, stable for identical inputs.
func (d *Dispatcher) Recipients(issue *domain.Issue, transition Transition) []string {
	var recipients []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		recipients = append(recipients, id)
	}

	switch transition.Kind {
	case TransitionPriorityEscalated:
		if issue.AssignedTo != nil {
			add(*issue.AssignedTo)
		}
		add(d.targets[transition.NewPriority])
	case TransitionAssigned:
		add(transition.AssigneeID)
	case TransitionReopened:
		if issue.AssignedTo != nil {
			add(*issue.AssignedTo)
		} else {
			add(d.defaultRecipient)
		}
	case TransitionManualEscalation:
		add(transition.Target)
		if issue.AssignedTo != nil {
			add(*issue.AssignedTo)
		}
	}
	return recipients
}

// Dispatch resolves recipients and writes one notification row each. A
// failed write for one recipient does not stop the rest; the first error
// is returned after all attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, issue *domain.Issue, transition Transition) ([]string, error) {
	recipients := d.Recipients(issue, transition)
	content := d.content(issue, transition)

	var firstErr error
	for _, recipient := range recipients {
		notification := &domain.Notification{
			IssueID:     issue.ID,
			RecipientID: recipient,
			Content:     content,
		}
		if err := d.notifications.Create(ctx, notification); err != nil {
			d.logger.Warn("notification write failed",
				zap.String("issue_id", issue.ID),
				zap.String("recipient_id", recipient),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return recipients, firstErr
}

func (d *Dispatcher) content(issue *domain.Issue, transition Transition) string {
	switch transition.Kind {
	case TransitionPriorityEscalated:
		return fmt.Sprintf("Issue %q escalated from %s to %s", issue.Title, transition.OldPriority, transition.NewPriority)
	case TransitionAssigned:
		return fmt.Sprintf("Issue %q assigned to you", issue.Title)
	case TransitionReopened:
		if transition.Reason != "" {
			return fmt.Sprintf("Issue %q reopened: %s", issue.Title, transition.Reason)
		}
		return fmt.Sprintf("Issue %q reopened", issue.Title)
	case TransitionManualEscalation:
		return fmt.Sprintf("Issue %q escalated to level %d", issue.Title, issue.EscalationLevel)
	default:
		return fmt.Sprintf("Issue %q updated", issue.Title)
	}
}
