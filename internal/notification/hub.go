package notification

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultMailboxSize bounds how many undelivered notifications one live
// subscriber may hold before the oldest is dropped.
const DefaultMailboxSize = 256

// waiter is one live subscription. Notifications queue in its mailbox until
// the subscriber takes them, so nothing published while the subscriber is
// busy writing the previous one gets lost.
type waiter struct {
	userID string

	mu      sync.Mutex
	mailbox []*Notification
	limit   int
	signal  chan struct{}
}

func (w *waiter) push(n *Notification) (dropped bool) {
	w.mu.Lock()
	if len(w.mailbox) >= w.limit {
		w.mailbox[0] = nil
		w.mailbox = w.mailbox[1:]
		dropped = true
	}
	w.mailbox = append(w.mailbox, n)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	return dropped
}

func (w *waiter) next(ctx context.Context) (*Notification, bool) {
	for {
		w.mu.Lock()
		if len(w.mailbox) > 0 {
			n := w.mailbox[0]
			w.mailbox[0] = nil
			w.mailbox = w.mailbox[1:]
			w.mu.Unlock()
			return n, true
		}
		w.mu.Unlock()

		select {
		case <-w.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Hub is the in-process registry of live subscribers keyed by user id.
type Hub struct {
	mu          sync.Mutex
	waiters     map[string]map[*waiter]struct{}
	mailboxSize int
}

func NewHub(mailboxSize int) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Hub{
		waiters:     make(map[string]map[*waiter]struct{}),
		mailboxSize: mailboxSize,
	}
}

// Subscribe registers a waiter for userID before returning, then streams
// every notification delivered for that user until ctx is done. The channel
// is closed after the waiter is removed.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan *Notification {
	w := h.register(userID)
	out := make(chan *Notification)

	go func() {
		defer close(out)
		defer h.deregister(w)

		for {
			n, ok := w.next(ctx)
			if !ok {
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Deliver hands n to every live waiter of its user and reports how many
// received it. Broadcasts are not pushed.
func (h *Hub) Deliver(n *Notification) int {
	if n == nil || n.UserID == nil {
		return 0
	}

	h.mu.Lock()
	set := h.waiters[*n.UserID]
	targets := make([]*waiter, 0, len(set))
	for w := range set {
		targets = append(targets, w)
	}
	h.mu.Unlock()

	for _, w := range targets {
		if w.push(n) {
			log.Warn().Str("user_id", w.userID).Int("mailbox_size", h.mailboxSize).Msg("hub: subscriber mailbox full, dropped oldest notification")
		}
	}
	return len(targets)
}

// Fanout delivers to local subscribers only.
func (h *Hub) Fanout(_ context.Context, n *Notification) error {
	h.Deliver(n)
	return nil
}

func (h *Hub) WaiterCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[userID])
}

// UserCount is the number of users with at least one live waiter.
func (h *Hub) UserCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters)
}

func (h *Hub) register(userID string) *waiter {
	w := &waiter{
		userID: userID,
		limit:  h.mailboxSize,
		signal: make(chan struct{}, 1),
	}

	h.mu.Lock()
	set, ok := h.waiters[userID]
	if !ok {
		set = make(map[*waiter]struct{})
		h.waiters[userID] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("user_id", userID).Msg("hub: subscriber registered")
	return w
}

func (h *Hub) deregister(w *waiter) {
	h.mu.Lock()
	if set, ok := h.waiters[w.userID]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.waiters, w.userID)
		}
	}
	h.mu.Unlock()

	log.Debug().Str("user_id", w.userID).Msg("hub: subscriber removed")
}
