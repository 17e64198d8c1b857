package streamclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectorBackoffGrows(t *testing.T) {
	cfg := Config{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    2 * time.Second,
		MaxReconnectAttempts: 10,
	}
	r := newReconnector(&cfg)

	var prev time.Duration
	for i := 0; i < 4; i++ {
		d := r.nextDelay()
		assert.GreaterOrEqual(t, d, prev, "attempt %d", i)
		assert.LessOrEqual(t, d, cfg.ReconnectMaxDelay)
		prev = d
	}
}

func TestReconnectorCapsAtMaxDelay(t *testing.T) {
	cfg := Config{
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    3 * time.Second,
		MaxReconnectAttempts: 0, // unlimited
	}
	r := newReconnector(&cfg)

	for i := 0; i < 10; i++ {
		r.nextDelay()
	}
	assert.Equal(t, cfg.ReconnectMaxDelay, r.nextDelay())
	assert.True(t, r.shouldReconnect(), "unlimited attempts never give up")
}

func TestReconnectorAttemptBudget(t *testing.T) {
	cfg := Config{
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
		MaxReconnectAttempts: 3,
	}
	r := newReconnector(&cfg)

	for i := 0; i < 3; i++ {
		require.True(t, r.shouldReconnect(), "attempt %d", i)
		r.nextDelay()
	}
	assert.False(t, r.shouldReconnect(), "budget exhausted")

	r.reset()
	assert.True(t, r.shouldReconnect())
}

func TestReconnectorResetsAfterStableConnection(t *testing.T) {
	cfg := Config{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    10 * time.Second,
		MaxReconnectAttempts: 10,
	}
	r := newReconnector(&cfg)

	for i := 0; i < 5; i++ {
		r.nextDelay()
	}

	// A connection that held for over a minute starts the ladder over.
	r.markConnected()
	r.mu.Lock()
	r.connectedAt = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	d := r.nextDelay()
	assert.Less(t, d, 200*time.Millisecond, "delay restarts from the base after a stable run")
}

func TestWaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() { done <- wait(ctx, time.Minute) }()
	cancel()

	select {
	case completed := <-done:
		assert.False(t, completed)
	case <-time.After(time.Second):
		t.Fatal("wait did not observe cancellation")
	}

	assert.True(t, wait(context.Background(), time.Millisecond))
}
