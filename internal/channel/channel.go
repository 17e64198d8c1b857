package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
)

// Channel is the per-recipient publish/subscribe primitive the realtime core
// is built on. Delivery is at-most-once with no persistence: consumers must
// reconcile against stored state independently.
type Channel interface {
	// Publish delivers env to every current subscriber for toUserID and
	// returns the number of subscribers reached. Zero is not an error.
	// Safe to call concurrently from any number of request contexts.
	Publish(ctx context.Context, toUserID string, env event.Envelope) (int, error)

	// Subscribe registers a subscriber for toUserID. Events arrive on the
	// subscription's channel in publish order until Close is called.
	Subscribe(toUserID string) (*Subscription, error)

	// Subscribers reports the current subscriber count for an identity.
	Subscribers(toUserID string) int

	// Stats returns a snapshot for the monitor endpoint.
	Stats() Stats

	// Close tears down the channel and every open subscription.
	Close() error
}

// Stats is a point-in-time view of channel load.
type Stats struct {
	Identities  int `json:"identities"`
	Subscribers int `json:"subscribers"`
}

// Subscription is one subscriber's feed. Close is idempotent and synchronous:
// once it returns, no further events are delivered.
type Subscription struct {
	id     string
	userID string
	ch     chan event.Envelope
	cancel func(*Subscription)
	once   sync.Once
}

// C returns the event feed. The channel is closed when the subscription is.
func (s *Subscription) C() <-chan event.Envelope { return s.ch }

// UserID returns the identity this subscription listens for.
func (s *Subscription) UserID() string { return s.userID }

// Close unsubscribes and closes the feed.
func (s *Subscription) Close() {
	s.once.Do(func() { s.cancel(s) })
}

const subscriberBufSize = 64 // per-subscriber outbound buffer

// Memory is the in-process Channel used for single-instance deployments and
// tests. Subscribers are tracked per identity behind an RWMutex; Publish
// never blocks on a slow consumer, it drops instead.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	closed bool
	logger *zap.Logger
}

// NewMemory constructs an in-process channel.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		subs:   make(map[string]map[string]*Subscription),
		logger: logger,
	}
}

var _ Channel = (*Memory)(nil)

func (m *Memory) Publish(_ context.Context, toUserID string, env event.Envelope) (int, error) {
	// Sends happen under the read lock and remove closes the feed under the
	// write lock, so a racing Close can never close a channel mid-send. The
	// sends are non-blocking, so holding the lock is cheap.
	m.mu.RLock()
	defer m.mu.RUnlock()

	delivered := 0
	for _, s := range m.subs[toUserID] {
		select {
		case s.ch <- env:
			delivered++
		default:
			// Slow consumer: drop rather than block the publisher. The
			// subscriber recovers via the polling fallback.
			m.logger.Warn("subscriber buffer full, dropping event",
				zap.String("user_id", toUserID),
				zap.String("event", env.Type),
			)
		}
	}
	return delivered, nil
}

func (m *Memory) Subscribe(toUserID string) (*Subscription, error) {
	sub := &Subscription{
		id:     uuid.NewString(),
		userID: toUserID,
		ch:     make(chan event.Envelope, subscriberBufSize),
		cancel: m.remove,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrChannelClosed
	}
	bucket := m.subs[toUserID]
	if bucket == nil {
		bucket = make(map[string]*Subscription)
		m.subs[toUserID] = bucket
	}
	bucket[sub.id] = sub
	return sub, nil
}

func (m *Memory) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket, ok := m.subs[sub.userID]; ok {
		delete(bucket, sub.id)
		if len(bucket) == 0 {
			delete(m.subs, sub.userID)
		}
	}
	// Closed under the write lock; publishers send under the read lock.
	close(sub.ch)
}

func (m *Memory) Subscribers(toUserID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[toUserID])
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Identities: len(m.subs)}
	for _, bucket := range m.subs {
		st.Subscribers += len(bucket)
	}
	return st
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := make([]*Subscription, 0)
	for _, bucket := range m.subs {
		for _, s := range bucket {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}
