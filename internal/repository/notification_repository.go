package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/grievance-engine/internal/domain"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

// NotificationRepository persists notification rows. Only the read flag is
// ever mutated after creation, and only by the recipient.
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository builds repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Create(ctx context.Context, notification *domain.Notification) error {
	const query = `
        INSERT INTO notifications (issue_id, recipient_id, content)
        VALUES ($1,$2,$3)
        RETURNING id, is_read, created_at`
	err := r.pool.QueryRow(ctx, query,
		notification.IssueID,
		notification.RecipientID,
		notification.Content,
	).Scan(&notification.ID, &notification.IsRead, &notification.CreatedAt)
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
        SELECT id, issue_id, recipient_id, content, is_read, created_at
        FROM notifications WHERE recipient_id=$1`
	if unreadOnly {
		query += ` AND is_read=FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, recipientID, limit, offset)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var notification domain.Notification
		if err := rows.Scan(
			&notification.ID,
			&notification.IssueID,
			&notification.RecipientID,
			&notification.Content,
			&notification.IsRead,
			&notification.CreatedAt,
		); err != nil {
			return nil, apperrors.NewPersistenceError(err)
		}
		result = append(result, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return result, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	const query = `UPDATE notifications SET is_read=TRUE WHERE id=$1 AND recipient_id=$2 RETURNING id`
	var updated string
	if err := r.pool.QueryRow(ctx, query, id, recipientID).Scan(&updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("notification", map[string]any{"notification_id": id})
		}
		return apperrors.NewPersistenceError(err)
	}
	return nil
}
