package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/grievance-engine/internal/domain"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// IssueRepository encapsulates issue persistence. Save takes the caller's
// view of updated_at and fails with CONFLICT when a concurrent writer got
// there first.
type IssueRepository interface {
	Create(ctx context.Context, issue *domain.Issue) error
	GetByID(ctx context.Context, id string) (*domain.Issue, error)
	ListActive(ctx context.Context) ([]domain.Issue, error)
	Save(ctx context.Context, issue *domain.Issue, expectedUpdatedAt time.Time) error
}

type issueRepository struct {
	pool *pgxpool.Pool
}

// NewIssueRepository instantiates repository.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{pool: pool}
}

const issueColumns = `id, employee_id, title, description, status, priority,
               type_id, sub_type_id, mapped_type_id, mapped_sub_type_id, mapped_at, mapped_by,
               assigned_to, assigned_at, escalation_level, escalated_at,
               created_at, updated_at, closed_at`

func (r *issueRepository) Create(ctx context.Context, issue *domain.Issue) error {
	const query = `
        INSERT INTO issues (employee_id, title, description, status, priority, type_id, sub_type_id, assigned_to, assigned_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		issue.EmployeeID,
		issue.Title,
		issue.Description,
		issue.Status,
		issue.Priority,
		issue.TypeID,
		issue.SubTypeID,
		issue.AssignedTo,
		issue.AssignedAt,
	).Scan(&issue.ID, &issue.CreatedAt, &issue.UpdatedAt)
}

func (r *issueRepository) GetByID(ctx context.Context, id string) (*domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id=$1`
	var issue domain.Issue
	if err := scanIssue(r.pool.QueryRow(ctx, query, id), &issue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("issue", map[string]any{"issue_id": id})
		}
		return nil, apperrors.NewPersistenceError(err)
	}
	return &issue, nil
}

func (r *issueRepository) ListActive(ctx context.Context) ([]domain.Issue, error) {
	query := `SELECT ` + issueColumns + `
        FROM issues WHERE status IN ($1,$2) ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, domain.IssueStatusOpen, domain.IssueStatusInProgress)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	defer rows.Close()

	var result []domain.Issue
	for rows.Next() {
		var issue domain.Issue
		if err := scanIssue(rows, &issue); err != nil {
			return nil, apperrors.NewPersistenceError(err)
		}
		result = append(result, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return result, nil
}

func (r *issueRepository) Save(ctx context.Context, issue *domain.Issue, expectedUpdatedAt time.Time) error {
	const query = `
        UPDATE issues SET status=$1, priority=$2,
            mapped_type_id=$3, mapped_sub_type_id=$4, mapped_at=$5, mapped_by=$6,
            assigned_to=$7, assigned_at=$8, escalation_level=$9, escalated_at=$10,
            closed_at=$11, updated_at=NOW()
        WHERE id=$12 AND updated_at=$13
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		issue.Status,
		issue.Priority,
		issue.MappedTypeID,
		issue.MappedSubTypeID,
		issue.MappedAt,
		issue.MappedBy,
		issue.AssignedTo,
		issue.AssignedAt,
		issue.EscalationLevel,
		issue.EscalatedAt,
		issue.ClosedAt,
		issue.ID,
		expectedUpdatedAt,
	).Scan(&issue.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewPersistenceError(err)
	}

	// Guard didn't match; distinguish a lost race from a missing row.
	var exists bool
	if checkErr := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id=$1)`, issue.ID).Scan(&exists); checkErr != nil {
		return apperrors.NewPersistenceError(checkErr)
	}
	if exists {
		return apperrors.NewConflict("issue modified concurrently", map[string]any{"issue_id": issue.ID})
	}
	return apperrors.NewNotFound("issue", map[string]any{"issue_id": issue.ID})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner, issue *domain.Issue) error {
	return row.Scan(
		&issue.ID,
		&issue.EmployeeID,
		&issue.Title,
		&issue.Description,
		&issue.Status,
		&issue.Priority,
		&issue.TypeID,
		&issue.SubTypeID,
		&issue.MappedTypeID,
		&issue.MappedSubTypeID,
		&issue.MappedAt,
		&issue.MappedBy,
		&issue.AssignedTo,
		&issue.AssignedAt,
		&issue.EscalationLevel,
		&issue.EscalatedAt,
		&issue.CreatedAt,
		&issue.UpdatedAt,
		&issue.ClosedAt,
	)
}
