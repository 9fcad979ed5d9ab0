package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/grievance-engine/internal/domain"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// AuditRepository stores the immutable trail. Append-only: no update or
// delete paths exist on purpose.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditTrailEntry) error
	ListByIssue(ctx context.Context, issueID string, limit, offset int) ([]domain.AuditTrailEntry, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditTrailEntry) error {
	const query = `
        INSERT INTO audit_trail (issue_id, action, actor_id, previous_status, new_status, details)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		entry.IssueID,
		entry.Action,
		entry.ActorID,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

func (r *auditRepository) ListByIssue(ctx context.Context, issueID string, limit, offset int) ([]domain.AuditTrailEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, issue_id, action, actor_id, previous_status, new_status, details, created_at
        FROM audit_trail WHERE issue_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, issueID, limit, offset)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	defer rows.Close()

	var result []domain.AuditTrailEntry
	for rows.Next() {
		var entry domain.AuditTrailEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.IssueID,
			&entry.Action,
			&entry.ActorID,
			&entry.PreviousStatus,
			&entry.NewStatus,
			&entry.Details,
			&entry.CreatedAt,
		); err != nil {
			return nil, apperrors.NewPersistenceError(err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return result, nil
}
