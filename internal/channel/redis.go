package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
)

// ErrChannelClosed is returned by Subscribe after the channel shut down.
var ErrChannelClosed = errors.New("channel: closed")

// Redis backs the Channel with Redis pub/sub so multiple server instances
// share one fan-out plane. Each identity maps to one Redis channel; the
// PUBLISH receiver count doubles as the delivered-subscriber count.
type Redis struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*redisSub
	closed bool
}

type redisSub struct {
	sub    *Subscription
	pubsub *redis.PubSub
	done   chan struct{}
	exited chan struct{}
}

// NewRedis connects to Redis using a URL ("redis://host:port/db") and
// verifies the connection with a ping.
func NewRedis(url string, logger *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("channel: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("channel: redis ping: %w", err)
	}

	return &Redis{
		client: client,
		logger: logger,
		subs:   make(map[string]*redisSub),
	}, nil
}

var _ Channel = (*Redis)(nil)

func redisKey(userID string) string {
	return "user:" + userID + ":events"
}

func (r *Redis) Publish(ctx context.Context, toUserID string, env event.Envelope) (int, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("channel: marshal envelope: %w", err)
	}
	receivers, err := r.client.Publish(ctx, redisKey(toUserID), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("channel: publish: %w", err)
	}
	return int(receivers), nil
}

func (r *Redis) Subscribe(toUserID string) (*Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrChannelClosed
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(context.Background(), redisKey(toUserID))
	// Force the SUBSCRIBE round trip so a broken connection fails here, not
	// silently in the pump.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("channel: subscribe: %w", err)
	}

	rs := &redisSub{
		pubsub: pubsub,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	sub := &Subscription{
		id:     uuid.NewString(),
		userID: toUserID,
		ch:     make(chan event.Envelope, subscriberBufSize),
		cancel: func(s *Subscription) { r.remove(s, rs) },
	}
	rs.sub = sub

	r.mu.Lock()
	r.subs[sub.id] = rs
	r.mu.Unlock()

	go r.pump(rs)
	return sub, nil
}

func (r *Redis) pump(rs *redisSub) {
	defer close(rs.exited)

	msgs := rs.pubsub.Channel()
	for {
		select {
		case <-rs.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env event.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping malformed envelope from redis", zap.Error(err))
				continue
			}
			select {
			case rs.sub.ch <- env:
			default:
				r.logger.Warn("subscriber buffer full, dropping event",
					zap.String("user_id", rs.sub.userID),
					zap.String("event", env.Type),
				)
			}
		}
	}
}

func (r *Redis) remove(sub *Subscription, rs *redisSub) {
	r.mu.Lock()
	delete(r.subs, sub.id)
	r.mu.Unlock()

	close(rs.done)
	_ = rs.pubsub.Close()
	// The feed channel closes only after the pump has stopped sending on it.
	<-rs.exited
	close(sub.ch)
}

func (r *Redis) Subscribers(toUserID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := r.client.PubSubNumSub(ctx, redisKey(toUserID)).Result()
	if err != nil {
		return 0
	}
	return int(counts[redisKey(toUserID)])
}

func (r *Redis) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{Subscribers: len(r.subs)}
	seen := make(map[string]struct{})
	for _, rs := range r.subs {
		seen[rs.sub.userID] = struct{}{}
	}
	st.Identities = len(seen)
	return st
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	all := make([]*redisSub, 0, len(r.subs))
	for _, rs := range r.subs {
		all = append(all, rs)
	}
	r.mu.Unlock()

	for _, rs := range all {
		rs.sub.Close()
	}
	return r.client.Close()
}
