package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var ErrInvalidNotification = errors.New("invalid notification")

// Fanout pushes an already persisted notification to live subscribers.
type Fanout interface {
	Fanout(ctx context.Context, n *Notification) error
}

type Service interface {
	// Publish persists n and then pushes it to the target user's live
	// subscribers. Persistence completes even if ctx is cancelled.
	Publish(ctx context.Context, n *Notification) error
	Subscribe(ctx context.Context, userID string) <-chan *Notification
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type Option func(*service)

// WithFanout replaces local delivery, e.g. with a RedisRelay.
func WithFanout(f Fanout) Option {
	return func(s *service) { s.fanout = f }
}

type service struct {
	repo   Repository
	hub    *Hub
	fanout Fanout
	now    func() time.Time
}

func NewService(repo Repository, hub *Hub, opts ...Option) Service {
	s := &service{
		repo:   repo,
		hub:    hub,
		fanout: hub,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Publish(ctx context.Context, n *Notification) error {
	if n == nil || n.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	ctx = context.WithoutCancel(ctx)

	if n.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("service: failed to generate notification id: %w", err)
		}
		n.ID = id
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	if err := s.repo.Create(ctx, n); err != nil {
		log.Error().Err(err).Stringer("notification_id", n.ID).Msg("service: failed to persist notification")
		return fmt.Errorf("service: failed to persist notification: %w", err)
	}

	if n.IsBroadcast() {
		log.Debug().Stringer("notification_id", n.ID).Msg("service: broadcast notification stored")
		return nil
	}

	if err := s.fanout.Fanout(ctx, n); err != nil {
		log.Warn().Err(err).Stringer("notification_id", n.ID).Str("user_id", *n.UserID).Msg("service: failed to push notification to live subscribers")
	}
	return nil
}

func (s *service) Subscribe(ctx context.Context, userID string) <-chan *Notification {
	return s.hub.Subscribe(ctx, userID)
}

func (s *service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	list, err := s.repo.ListForUser(ctx, userID, limit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to list notifications")
		return nil, fmt.Errorf("service: failed to list notifications: %w", err)
	}
	return list, nil
}

func (s *service) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID, s.now()); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return ErrNotificationNotFound
		}
		log.Error().Err(err).Stringer("notification_id", id).Msg("service: failed to mark notification read")
		return fmt.Errorf("service: failed to mark notification read: %w", err)
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to mark all notifications read")
		return 0, fmt.Errorf("service: failed to mark all notifications read: %w", err)
	}
	return n, nil
}

func (s *service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to count unread notifications")
		return 0, fmt.Errorf("service: failed to count unread notifications: %w", err)
	}
	return count, nil
}
