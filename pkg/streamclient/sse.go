package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEClient consumes the server-push event stream with auto-reconnect and a
// heartbeat watchdog. Server-push only; all client actions go through the
// REST API.
type SSEClient struct {
	baseURL          string
	config           *Config
	mu               sync.Mutex
	state            ConnState
	intentionalClose bool
	dispatcher       *dispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	lastDataTime     time.Time

	// lifeCtx spans the whole connect/reconnect cycle. Disconnect cancels it,
	// which aborts any backoff wait in flight; Connect re-arms it.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	// body is the open response body. Closing it is the only reliable way to
	// unblock a scanner stuck in a read.
	body io.ReadCloser
}

func NewSSEClient(baseURL string, config Config) *SSEClient {
	config.defaults()
	return &SSEClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &config,
		state:      StateDisconnected,
		dispatcher: newDispatcher(),
		recon:      newReconnector(&config),
	}
}

// OnMessageEvent registers a handler for message:* events.
func (sse *SSEClient) OnMessageEvent(h func(eventType string, p MessagePayload)) {
	sse.dispatcher.addMessageHandler(h)
}

// OnCallEvent registers a handler for call:* events.
func (sse *SSEClient) OnCallEvent(h func(eventType string, p CallPayload)) {
	sse.dispatcher.addCallHandler(h)
}

// On registers a generic event handler.
func (sse *SSEClient) On(eventType string, h EventHandler) {
	sse.dispatcher.addGeneric(eventType, h)
}

// OnConnected registers a handler for the connected meta-event.
func (sse *SSEClient) OnConnected(h func()) {
	sse.dispatcher.addConnected(h)
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (sse *SSEClient) OnDisconnected(h func(reason string)) {
	sse.dispatcher.addDisconnected(h)
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (sse *SSEClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	sse.dispatcher.addReconnecting(h)
}

// State returns the current connection state.
func (sse *SSEClient) State() ConnState {
	sse.mu.Lock()
	defer sse.mu.Unlock()
	return sse.state
}

// Connect establishes the SSE connection. Calling Connect while connected or
// connecting is a no-op.
func (sse *SSEClient) Connect(ctx context.Context) error {
	sse.mu.Lock()
	if sse.state == StateConnected || sse.state == StateConnecting {
		sse.mu.Unlock()
		return nil
	}
	sse.state = StateConnecting
	sse.intentionalClose = false
	if sse.lifeCtx == nil || sse.lifeCtx.Err() != nil {
		sse.lifeCtx, sse.lifeCancel = context.WithCancel(context.Background())
	}
	life := sse.lifeCtx
	sse.mu.Unlock()

	url := sse.baseURL + "/rt/api/stream?userId=" + sse.config.Identity

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		sse.setState(StateDisconnected)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-User-ID", sse.config.Identity)

	resp, err := sse.config.HTTPClient.Do(req)
	if err != nil {
		sse.setState(StateDisconnected)
		return fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		sse.setState(StateDisconnected)
		return fmt.Errorf("sse connect: http %d", resp.StatusCode)
	}

	sse.mu.Lock()
	sse.state = StateConnected
	sse.body = resp.Body
	sse.lastDataTime = time.Now()
	sse.mu.Unlock()
	sse.recon.markConnected()
	sse.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(life)
	sse.mu.Lock()
	sse.cancelFn = cancel
	sse.mu.Unlock()

	go sse.readLoop(connCtx, resp)
	go sse.heartbeatWatchdog(connCtx)

	return nil
}

// Disconnect closes the connection and disables auto-reconnect for it. Any
// backoff wait in progress is aborted.
func (sse *SSEClient) Disconnect() error {
	sse.mu.Lock()
	sse.intentionalClose = true
	if sse.lifeCancel != nil {
		sse.lifeCancel()
	}
	if sse.cancelFn != nil {
		sse.cancelFn()
		sse.cancelFn = nil
	}
	body := sse.body
	sse.body = nil
	sse.state = StateDisconnected
	sse.mu.Unlock()

	if body != nil {
		_ = body.Close()
	}
	sse.dispatcher.emitDisconnected("client disconnect")
	return nil
}

func (sse *SSEClient) setState(s ConnState) {
	sse.mu.Lock()
	sse.state = s
	sse.mu.Unlock()
}

func (sse *SSEClient) readLoop(ctx context.Context, resp *http.Response) {
	defer func() {
		sse.mu.Lock()
		if sse.body == resp.Body {
			sse.body = nil
		}
		sse.mu.Unlock()
		resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()

		sse.mu.Lock()
		sse.lastDataTime = time.Now()
		sse.mu.Unlock()

		// Comment frames are heartbeats; retry hints are left to the
		// reconnector's own backoff.
		if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "retry:") {
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			var env Envelope
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env) == nil {
				sse.dispatcher.dispatch(env)
			}
		}
	}

	sse.mu.Lock()
	intentional := sse.intentionalClose
	sse.mu.Unlock()
	if intentional {
		return
	}

	sse.setState(StateDisconnected)
	sse.dispatcher.emitDisconnected("stream ended")

	if sse.config.AutoReconnect && sse.recon.shouldReconnect() {
		sse.scheduleReconnect()
	}
}

// heartbeatWatchdog forces a reconnect when the stream goes silent for longer
// than the heartbeat timeout. A dead TCP path can take minutes to surface as
// a read error; the watchdog notices much sooner.
func (sse *SSEClient) heartbeatWatchdog(ctx context.Context) {
	ticker := time.NewTicker(sse.config.HeartbeatTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.mu.Lock()
			stale := time.Since(sse.lastDataTime) > sse.config.HeartbeatTimeout
			if !stale {
				sse.mu.Unlock()
				continue
			}
			cancel := sse.cancelFn
			body := sse.body
			sse.body = nil
			sse.mu.Unlock()

			if cancel != nil {
				cancel()
			}
			// Closing the body is what actually unblocks the scanner; the
			// context alone cannot interrupt a read in progress.
			if body != nil {
				_ = body.Close()
			}
			return
		}
	}
}

func (sse *SSEClient) scheduleReconnect() {
	sse.mu.Lock()
	life := sse.lifeCtx
	sse.mu.Unlock()
	if life == nil || life.Err() != nil {
		sse.setState(StateDisconnected)
		return
	}

	delay := sse.recon.nextDelay()
	sse.setState(StateReconnecting)
	sse.dispatcher.emitReconnecting(sse.recon.currentAttempt(), delay)

	// Disconnect cancels the life context, which aborts the backoff wait.
	if !wait(life, delay) {
		sse.setState(StateDisconnected)
		return
	}

	sse.mu.Lock()
	intentional := sse.intentionalClose
	sse.mu.Unlock()
	if intentional {
		sse.setState(StateDisconnected)
		return
	}

	// The old context died with the old connection.
	if err := sse.Connect(context.Background()); err != nil {
		if sse.config.AutoReconnect && sse.recon.shouldReconnect() {
			sse.scheduleReconnect()
		} else {
			sse.setState(StateDisconnected)
		}
	}
}
