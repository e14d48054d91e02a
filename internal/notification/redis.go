package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const DefaultRelayChannel = "notifications"

const (
	relayMinBackoff = time.Second
	relayMaxBackoff = 30 * time.Second
)

// RedisRelay shares deliveries between service instances: Fanout publishes
// on a Redis channel and Run feeds every message received on it into the
// local hub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string

	// listening is set while Run holds a live subscription.
	listening atomic.Bool
}

func NewRedisRelay(client *redis.Client, hub *Hub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, hub: hub, channel: channel}
}

// Fanout publishes n for every instance. Subscribers on this instance get
// it from the local hub instead when Redis is unreachable or this
// instance is not subscribed.
func (r *RedisRelay) Fanout(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("relay: failed to encode notification %s: %w", n.ID, err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		log.Warn().Err(err).Stringer("notification_id", n.ID).Msg("relay: redis publish failed, delivering locally")
		r.hub.Deliver(n)
		return nil
	}
	if !r.listening.Load() {
		log.Debug().Stringer("notification_id", n.ID).Msg("relay: not subscribed, delivering locally")
		r.hub.Deliver(n)
	}
	return nil
}

// Listening reports whether Run currently holds a subscription.
func (r *RedisRelay) Listening() bool {
	return r.listening.Load()
}

// Run blocks until ctx is done or the subscription closes.
func (r *RedisRelay) Run(ctx context.Context) error {
	_, err := r.listen(ctx)
	return err
}

// Serve keeps a subscription alive until ctx is done, retrying with
// exponential backoff whenever Run fails or its subscription drops.
func (r *RedisRelay) Serve(ctx context.Context) {
	backoff := relayMinBackoff
	for {
		subscribed, err := r.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			backoff = relayMinBackoff
		}
		log.Error().Err(err).Dur("retry_in", backoff).Str("channel", r.channel).Msg("relay: subscription lost, delivering locally until it is restored")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff *= 2; backoff > relayMaxBackoff {
			backoff = relayMaxBackoff
		}
	}
}

// listen reports whether the subscription was established before it ended.
func (r *RedisRelay) listen(ctx context.Context) (bool, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("relay: failed to subscribe to %s: %w", r.channel, err)
	}
	r.listening.Store(true)
	defer r.listening.Store(false)
	log.Info().Str("channel", r.channel).Msg("relay: listening for notifications")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-messages:
			if !ok {
				return true, fmt.Errorf("relay: subscription to %s closed", r.channel)
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("relay: dropping malformed notification")
				continue
			}
			r.hub.Deliver(&n)
		}
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
