package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
)

func recv(t *testing.T, sub *Subscription) event.Envelope {
	t.Helper()
	select {
	case env := <-sub.C():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Envelope{}
	}
}

func TestMemoryPublishReachesAllSubscribers(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	first, err := m.Subscribe("alice")
	require.NoError(t, err)
	second, err := m.Subscribe("alice")
	require.NoError(t, err)
	other, err := m.Subscribe("bob")
	require.NoError(t, err)

	env := event.NewEnvelope("message:new", map[string]string{"body": "hi"})
	delivered, err := m.Publish(context.Background(), "alice", env)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	assert.Equal(t, env.Type, recv(t, first).Type)
	assert.Equal(t, env.Type, recv(t, second).Type)

	select {
	case got := <-other.C():
		t.Fatalf("bob received alice's event %q", got.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPublishWithNoSubscribers(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	delivered, err := m.Publish(context.Background(), "nobody", event.NewEnvelope("message:new", nil))
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestMemorySubscriptionCloseIsSynchronous(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	sub, err := m.Subscribe("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers("alice"))

	sub.Close()
	assert.Zero(t, m.Subscribers("alice"))

	delivered, err := m.Publish(context.Background(), "alice", event.NewEnvelope("message:new", nil))
	require.NoError(t, err)
	assert.Zero(t, delivered)

	// Closing again is harmless.
	sub.Close()

	_, open := <-sub.C()
	assert.False(t, open, "feed channel closes with the subscription")
}

func TestMemorySlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	sub, err := m.Subscribe("alice")
	require.NoError(t, err)
	defer sub.Close()

	env := event.NewEnvelope("message:new", nil)
	for i := 0; i < subscriberBufSize; i++ {
		delivered, err := m.Publish(context.Background(), "alice", env)
		require.NoError(t, err)
		assert.Equal(t, 1, delivered)
	}

	// Buffer full: the publisher must not block and the event is dropped.
	done := make(chan int, 1)
	go func() {
		delivered, _ := m.Publish(context.Background(), "alice", env)
		done <- delivered
	}()
	select {
	case delivered := <-done:
		assert.Zero(t, delivered)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestMemoryPublishRacingCloseDoesNotPanic(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	subs := make([]*Subscription, 0, 128)
	for i := 0; i < 128; i++ {
		sub, err := m.Subscribe("alice")
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	env := event.NewEnvelope("message:new", nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, err := m.Publish(context.Background(), "alice", env)
			require.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			sub.Close()
		}
	}()
	wg.Wait()

	assert.Zero(t, m.Subscribers("alice"))
}

func TestMemoryStats(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	a1, _ := m.Subscribe("alice")
	a2, _ := m.Subscribe("alice")
	b1, _ := m.Subscribe("bob")
	defer a1.Close()
	defer a2.Close()
	defer b1.Close()

	st := m.Stats()
	assert.Equal(t, 2, st.Identities)
	assert.Equal(t, 3, st.Subscribers)
}

func TestMemoryCloseTerminatesSubscriptions(t *testing.T) {
	m := NewMemory(zap.NewNop())

	sub, err := m.Subscribe("alice")
	require.NoError(t, err)

	require.NoError(t, m.Close())

	_, open := <-sub.C()
	assert.False(t, open)

	_, err = m.Subscribe("bob")
	assert.ErrorIs(t, err, ErrChannelClosed)

	// Close is idempotent.
	require.NoError(t, m.Close())
}

func TestMemoryPublishOrder(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	sub, err := m.Subscribe("alice")
	require.NoError(t, err)
	defer sub.Close()

	types := []string{"call:incoming", "call:answered", "call:ended"}
	for _, typ := range types {
		_, err := m.Publish(context.Background(), "alice", event.NewEnvelope(typ, nil))
		require.NoError(t, err)
	}

	for _, want := range types {
		assert.Equal(t, want, recv(t, sub).Type)
	}
}
