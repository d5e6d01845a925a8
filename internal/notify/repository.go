package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Repository persists notifications in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one notification.
func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	var subjectID any
	if n.SubjectID != uuid.Nil {
		subjectID = n.SubjectID
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, type, title, message, subject_id, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		n.UserID, n.Type, n.Title, n.Message, subjectID, n.ActionURL, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, COALESCE(subject_id, '00000000-0000-0000-0000-000000000000'), action_url, read, read_at, created_at
		FROM notifications
		WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.SubjectID, &n.ActionURL, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead marks one notification read, scoped to its owner.
func (r *Repository) MarkRead(ctx context.Context, userID, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $3
		WHERE id = $1 AND user_id = $2 AND read = FALSE`,
		id, userID, at,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification %d", shared.ErrNotFound, id)
	}
	return nil
}

// MarkAllRead marks every unread notification for the user.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $2
		WHERE user_id = $1 AND read = FALSE`,
		userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnreadCount returns the user's unread total.
func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
