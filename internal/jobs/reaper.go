package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskCallsReap = "calls:reap"

// CallReaper is the part of the call service the background jobs need.
type CallReaper interface {
	ReapStaleRinging(ctx context.Context) (int, error)
}

// Reaper runs the stale-ringing sweep on a schedule through asynq so that in
// multi-instance deployments only one worker picks up each sweep. Sweeps that
// overlap are harmless: each expiry is a conditional update.
type Reaper struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	calls     CallReaper
	logger    *zap.Logger
}

func NewReaper(redisURL string, cadence time.Duration, calls CallReaper, logger *zap.Logger) (*Reaper, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("reaper: parse redis url: %w", err)
	}
	if cadence <= 0 {
		cadence = 30 * time.Second
	}

	r := &Reaper{
		calls:  calls,
		logger: logger,
	}

	r.mux = asynq.NewServeMux()
	r.mux.HandleFunc(TaskCallsReap, r.handleReap)

	r.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("background task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	r.scheduler = asynq.NewScheduler(opt, &asynq.SchedulerOpts{})
	entry := fmt.Sprintf("@every %s", cadence)
	if _, err := r.scheduler.Register(entry, asynq.NewTask(TaskCallsReap, nil)); err != nil {
		return nil, fmt.Errorf("reaper: register schedule: %w", err)
	}

	return r, nil
}

func (r *Reaper) handleReap(ctx context.Context, _ *asynq.Task) error {
	reaped, err := r.calls.ReapStaleRinging(ctx)
	if err != nil {
		return fmt.Errorf("reap stale calls: %w", err)
	}
	if reaped > 0 {
		r.logger.Info("stale calls expired", zap.Int("count", reaped))
	}
	return nil
}

func (r *Reaper) Start() error {
	if err := r.server.Start(r.mux); err != nil {
		return fmt.Errorf("reaper: start worker: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("reaper: start scheduler: %w", err)
	}
	return nil
}

func (r *Reaper) Stop() {
	r.scheduler.Shutdown()
	r.server.Shutdown()
}

// TickerReaper is the single-instance fallback used when no Redis is
// configured. It runs the same sweep on an in-process ticker.
type TickerReaper struct {
	cadence time.Duration
	calls   CallReaper
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewTickerReaper(cadence time.Duration, calls CallReaper, logger *zap.Logger) *TickerReaper {
	if cadence <= 0 {
		cadence = 30 * time.Second
	}
	return &TickerReaper{
		cadence: cadence,
		calls:   calls,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (t *TickerReaper) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reaped, err := t.calls.ReapStaleRinging(ctx)
				if err != nil {
					t.logger.Error("stale call sweep failed", zap.Error(err))
					continue
				}
				if reaped > 0 {
					t.logger.Info("stale calls expired", zap.Int("count", reaped))
				}
			}
		}
	}()
	return nil
}

func (t *TickerReaper) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}
