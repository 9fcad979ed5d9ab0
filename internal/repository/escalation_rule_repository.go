package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/grievance-engine/internal/domain"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// EscalationRuleRepository exposes the externally supplied escalation rule
// configuration. Read-only to the engine.
type EscalationRuleRepository interface {
	RulesFor(ctx context.Context, priority domain.IssuePriority) ([]domain.EscalationRule, error)
}

type escalationRuleRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRuleRepository builds repository.
func NewEscalationRuleRepository(pool *pgxpool.Pool) EscalationRuleRepository {
	return &escalationRuleRepository{pool: pool}
}

func (r *escalationRuleRepository) RulesFor(ctx context.Context, priority domain.IssuePriority) ([]domain.EscalationRule, error) {
	const query = `
        SELECT id, priority, escalate_after_hours, escalate_to_role, escalate_to_user, is_active, created_at
        FROM escalation_rules WHERE priority=$1 AND is_active=TRUE ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, priority)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	defer rows.Close()

	var result []domain.EscalationRule
	for rows.Next() {
		var rule domain.EscalationRule
		if err := rows.Scan(
			&rule.ID,
			&rule.Priority,
			&rule.EscalateAfterHours,
			&rule.EscalateToRole,
			&rule.EscalateToUser,
			&rule.IsActive,
			&rule.CreatedAt,
		); err != nil {
			return nil, apperrors.NewPersistenceError(err)
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return result, nil
}

// cachedRuleRepository is a Redis read-through cache over rule lookups.
// Rules change rarely; a bounded TTL keeps the sweep from hammering the
// store while still picking up config edits.
type cachedRuleRepository struct {
	inner  EscalationRuleRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRuleRepository wraps a rule repository with a Redis cache.
func NewCachedRuleRepository(inner EscalationRuleRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) EscalationRuleRepository {
	return &cachedRuleRepository{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (r *cachedRuleRepository) RulesFor(ctx context.Context, priority domain.IssuePriority) ([]domain.EscalationRule, error) {
	key := "escalation_rules:" + string(priority)

	if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var rules []domain.EscalationRule
		if unmarshalErr := json.Unmarshal(cached, &rules); unmarshalErr == nil {
			return rules, nil
		}
		// fall through on a corrupt entry
	}

	rules, err := r.inner.RulesFor(ctx, priority)
	if err != nil {
		return nil, err
	}
	if payload, marshalErr := json.Marshal(rules); marshalErr == nil {
		if setErr := r.client.Set(ctx, key, payload, r.ttl).Err(); setErr != nil {
			r.logger.Debug("rule cache write failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return rules, nil
}
