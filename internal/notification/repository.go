package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Repository methods scoped by userID see the user's own notifications and
// every broadcast.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, type, is_read, read_at, created_at, action_url, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		n.Type,
		n.IsRead,
		n.ReadAt,
		n.CreatedAt,
		n.ActionURL,
		n.Notes,
	)
	if err != nil {
		log.Error().Err(err).Stringer("notification_id", n.ID).Msg("repository: failed to insert notification")
		return fmt.Errorf("repository: failed to insert notification %s: %w", n.ID, err)
	}
	return nil
}

func (r *postgresRepository) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	query := `
		SELECT id, user_id, title, message, type, is_read, read_at, created_at, action_url, notes
		FROM notifications
		WHERE user_id = $1 OR user_id IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query notifications for user %s: %w", userID, err)
	}
	defer rows.Close()

	result := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.ReadAt, &n.CreatedAt, &n.ActionURL, &n.Notes)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan notification for user %s: %w", userID, err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating notifications for user %s: %w", userID, err)
	}

	return result, nil
}

func (r *postgresRepository) MarkRead(ctx context.Context, id uuid.UUID, userID string, at time.Time) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND (user_id = $2 OR user_id IS NULL)
	`
	cmdTag, err := r.db.Exec(ctx, query, id, userID, at)
	if err != nil {
		return fmt.Errorf("repository: failed to mark notification %s read: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *postgresRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE (user_id = $1 OR user_id IS NULL) AND NOT is_read
	`
	cmdTag, err := r.db.Exec(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to mark notifications read for user %s: %w", userID, err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *postgresRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE (user_id = $1 OR user_id IS NULL) AND NOT is_read`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("repository: failed to count unread notifications for user %s: %w", userID, err)
	}
	return count, nil
}
