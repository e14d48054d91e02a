package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forUser(userID, title string) *Notification {
	return New(&userID, title, title, TypeInfo)
}

func receive(t *testing.T, ch <-chan *Notification) *Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := hub.Subscribe(ctx, "u1")
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, hub.Deliver(forUser("u1", fmt.Sprintf("n%d", i))))
	}

	for i := 0; i < 20; i++ {
		assert.Equal(t, fmt.Sprintf("n%d", i), receive(t, stream).Title)
	}
}

func TestHub_OnlyTargetUserReceives(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")

	hub.Deliver(forUser("bob", "for bob"))
	hub.Deliver(forUser("alice", "for alice"))

	assert.Equal(t, "for alice", receive(t, alice).Title)
	assert.Equal(t, "for bob", receive(t, bob).Title)
}

func TestHub_EverySubscriberOfAUserReceives(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tab1 := hub.Subscribe(ctx, "u1")
	tab2 := hub.Subscribe(ctx, "u1")
	require.Equal(t, 2, hub.WaiterCount("u1"))

	assert.Equal(t, 2, hub.Deliver(forUser("u1", "hello")))
	assert.Equal(t, "hello", receive(t, tab1).Title)
	assert.Equal(t, "hello", receive(t, tab2).Title)
}

func TestHub_BroadcastIsNotPushed(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Subscribe(ctx, "u1")

	assert.Equal(t, 0, hub.Deliver(New(nil, "maintenance", "tonight", TypeWarning)))
}

func TestHub_NoGrowthWithoutSubscribers(t *testing.T) {
	hub := NewHub(0)

	for i := 0; i < 1000; i++ {
		assert.Equal(t, 0, hub.Deliver(forUser(fmt.Sprintf("u%d", i%10), "x")))
	}

	assert.Equal(t, 0, hub.UserCount())
}

func TestHub_CancelDeregisters(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())

	stream := hub.Subscribe(ctx, "u1")
	require.Equal(t, 1, hub.WaiterCount("u1"))

	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
	assert.Eventually(t, func() bool { return hub.UserCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_MailboxDropsOldestWhenFull(t *testing.T) {
	hub := NewHub(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := hub.register("u1")
	defer hub.deregister(w)
	for i := 0; i < 5; i++ {
		hub.Deliver(forUser("u1", fmt.Sprintf("n%d", i)))
	}

	for _, want := range []string{"n2", "n3", "n4"} {
		n, ok := w.next(ctx)
		require.True(t, ok)
		assert.Equal(t, want, n.Title)
	}
}

func TestHub_ConcurrentSubscribeAndDeliver(t *testing.T) {
	hub := NewHub(0)
	const subscribers = 20
	const perUser = 50

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams := make([]<-chan *Notification, subscribers)
	for i := range streams {
		streams[i] = hub.Subscribe(ctx, fmt.Sprintf("u%d", i))
	}

	var publishers sync.WaitGroup
	for i := 0; i < subscribers; i++ {
		publishers.Add(1)
		go func(user string) {
			defer publishers.Done()
			for j := 0; j < perUser; j++ {
				hub.Deliver(forUser(user, fmt.Sprintf("%s-%d", user, j)))
			}
		}(fmt.Sprintf("u%d", i))
	}

	var readers sync.WaitGroup
	for i, stream := range streams {
		readers.Add(1)
		go func(user string, stream <-chan *Notification) {
			defer readers.Done()
			for j := 0; j < perUser; j++ {
				select {
				case n := <-stream:
					assert.Equal(t, fmt.Sprintf("%s-%d", user, j), n.Title)
				case <-time.After(2 * time.Second):
					t.Errorf("user %s: timed out at %d", user, j)
					return
				}
			}
		}(fmt.Sprintf("u%d", i), stream)
	}

	publishers.Wait()
	readers.Wait()
}
