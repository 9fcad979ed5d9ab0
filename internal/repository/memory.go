package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/grievance-engine/internal/domain"
	"github.com/spec-kit/grievance-engine/internal/sla"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// MemoryStore backs all repositories with process memory. It serves two
// masters: development runs without a POSTGRES_DSN, and deterministic tests
// (which inject a fake clock so updated_at guards can be exercised).
type MemoryStore struct {
	mu            sync.RWMutex
	clock         sla.Clock
	issues        map[string]domain.Issue
	audit         map[string][]domain.AuditTrailEntry
	notifications map[string]domain.Notification
	rules         map[domain.IssuePriority][]domain.EscalationRule
}

// NewMemoryStore builds an empty store on the system clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(sla.SystemClock())
}

// NewMemoryStoreWithClock builds an empty store on the given clock.
func NewMemoryStoreWithClock(clock sla.Clock) *MemoryStore {
	return &MemoryStore{
		clock:         clock,
		issues:        make(map[string]domain.Issue),
		audit:         make(map[string][]domain.AuditTrailEntry),
		notifications: make(map[string]domain.Notification),
		rules:         make(map[domain.IssuePriority][]domain.EscalationRule),
	}
}

// SeedRule registers an escalation rule for lookups.
func (s *MemoryStore) SeedRule(rule domain.EscalationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.rules[rule.Priority] = append(s.rules[rule.Priority], rule)
}

// Issues returns the store as an IssueRepository.
func (s *MemoryStore) Issues() IssueRepository { return (*memoryIssues)(s) }

// Audit returns the store as an AuditRepository.
func (s *MemoryStore) Audit() AuditRepository { return (*memoryAudit)(s) }

// Notifications returns the store as a NotificationRepository.
func (s *MemoryStore) Notifications() NotificationRepository { return (*memoryNotifications)(s) }

// Rules returns the store as an EscalationRuleRepository.
func (s *MemoryStore) Rules() EscalationRuleRepository { return (*memoryRules)(s) }

type memoryIssues MemoryStore

func (m *memoryIssues) Create(ctx context.Context, issue *domain.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := m.clock.Now()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = issue.CreatedAt
	m.issues[issue.ID] = *issue
	return nil
}

func (m *memoryIssues) GetByID(ctx context.Context, id string) (*domain.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, apperrors.NewNotFound("issue", map[string]any{"issue_id": id})
	}
	copied := issue
	return &copied, nil
}

func (m *memoryIssues) ListActive(ctx context.Context) ([]domain.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.Issue
	for _, issue := range m.issues {
		if issue.Status == domain.IssueStatusOpen || issue.Status == domain.IssueStatusInProgress {
			result = append(result, issue)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memoryIssues) Save(ctx context.Context, issue *domain.Issue, expectedUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.issues[issue.ID]
	if !ok {
		return apperrors.NewNotFound("issue", map[string]any{"issue_id": issue.ID})
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return apperrors.NewConflict("issue modified concurrently", map[string]any{"issue_id": issue.ID})
	}
	issue.UpdatedAt = m.clock.Now()
	if !issue.UpdatedAt.After(stored.UpdatedAt) {
		// A frozen test clock must still advance the guard.
		issue.UpdatedAt = stored.UpdatedAt.Add(time.Microsecond)
	}
	m.issues[issue.ID] = *issue
	return nil
}

type memoryAudit MemoryStore

func (m *memoryAudit) Append(ctx context.Context, entry *domain.AuditTrailEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.clock.Now()
	}
	m.audit[entry.IssueID] = append(m.audit[entry.IssueID], *entry)
	return nil
}

func (m *memoryAudit) ListByIssue(ctx context.Context, issueID string, limit, offset int) ([]domain.AuditTrailEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.audit[issueID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []domain.AuditTrailEntry{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	result := make([]domain.AuditTrailEntry, end-offset)
	copy(result, entries[offset:end])
	return result, nil
}

type memoryNotifications MemoryStore

func (m *memoryNotifications) Create(ctx context.Context, notification *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = m.clock.Now()
	}
	m.notifications[notification.ID] = *notification
	return nil
}

func (m *memoryNotifications) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.Notification
	for _, notification := range m.notifications {
		if notification.RecipientID != recipientID {
			continue
		}
		if unreadOnly && notification.IsRead {
			continue
		}
		result = append(result, notification)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return []domain.Notification{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (m *memoryNotifications) MarkRead(ctx context.Context, id, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification, ok := m.notifications[id]
	if !ok || notification.RecipientID != recipientID {
		return apperrors.NewNotFound("notification", map[string]any{"notification_id": id})
	}
	notification.IsRead = true
	m.notifications[id] = notification
	return nil
}

type memoryRules MemoryStore

func (m *memoryRules) RulesFor(ctx context.Context, priority domain.IssuePriority) ([]domain.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.EscalationRule
	for _, rule := range m.rules[priority] {
		if rule.IsActive {
			result = append(result, rule)
		}
	}
	return result, nil
}
