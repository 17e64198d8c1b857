package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// WSClient consumes the push stream over WebSocket with auto-reconnect. Like
// the SSE client it is receive-only; ping/pong keepalive is handled by the
// websocket library underneath Read.
type WSClient struct {
	baseURL          string
	config           *Config
	conn             *websocket.Conn
	mu               sync.Mutex
	state            ConnState
	intentionalClose bool
	dispatcher       *dispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc

	// lifeCtx spans the whole connect/reconnect cycle. Disconnect cancels it,
	// which aborts any backoff wait in flight; Connect re-arms it.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

func NewWSClient(baseURL string, config Config) *WSClient {
	config.defaults()
	return &WSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &config,
		state:      StateDisconnected,
		dispatcher: newDispatcher(),
		recon:      newReconnector(&config),
	}
}

// OnMessageEvent registers a handler for message:* events.
func (ws *WSClient) OnMessageEvent(h func(eventType string, p MessagePayload)) {
	ws.dispatcher.addMessageHandler(h)
}

// OnCallEvent registers a handler for call:* events.
func (ws *WSClient) OnCallEvent(h func(eventType string, p CallPayload)) {
	ws.dispatcher.addCallHandler(h)
}

// On registers a generic event handler.
func (ws *WSClient) On(eventType string, h EventHandler) {
	ws.dispatcher.addGeneric(eventType, h)
}

// OnConnected registers a handler for the connected meta-event.
func (ws *WSClient) OnConnected(h func()) {
	ws.dispatcher.addConnected(h)
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ws *WSClient) OnDisconnected(h func(reason string)) {
	ws.dispatcher.addDisconnected(h)
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (ws *WSClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	ws.dispatcher.addReconnecting(h)
}

// State returns the current connection state.
func (ws *WSClient) State() ConnState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect establishes the WebSocket connection. Calling Connect while
// connected or connecting is a no-op.
func (ws *WSClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentionalClose = false
	if ws.lifeCtx == nil || ws.lifeCtx.Err() != nil {
		ws.lifeCtx, ws.lifeCancel = context.WithCancel(context.Background())
	}
	life := ws.lifeCtx
	ws.mu.Unlock()

	wsURL := strings.Replace(ws.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/rt/api/ws?userId=" + ws.config.Identity

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: ws.config.HTTPClient,
	})
	if err != nil {
		ws.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.state = StateConnected
	ws.mu.Unlock()
	ws.recon.markConnected()
	ws.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(life)
	ws.mu.Lock()
	ws.cancelFn = cancel
	ws.mu.Unlock()

	go ws.readLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection. Any backoff wait in progress
// is aborted.
func (ws *WSClient) Disconnect() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.lifeCancel != nil {
		ws.lifeCancel()
	}
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	ws.dispatcher.emitDisconnected("client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (ws *WSClient) setState(s ConnState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()
}

func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			ws.conn = nil
			ws.state = StateDisconnected
			ws.mu.Unlock()
			if intentional {
				return
			}

			ws.dispatcher.emitDisconnected(err.Error())

			if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
				ws.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		ws.dispatcher.dispatch(env)
	}
}

func (ws *WSClient) scheduleReconnect() {
	ws.mu.Lock()
	life := ws.lifeCtx
	ws.mu.Unlock()
	if life == nil || life.Err() != nil {
		ws.setState(StateDisconnected)
		return
	}

	delay := ws.recon.nextDelay()
	ws.setState(StateReconnecting)
	ws.dispatcher.emitReconnecting(ws.recon.currentAttempt(), delay)

	// Disconnect cancels the life context, which aborts the backoff wait.
	if !wait(life, delay) {
		ws.setState(StateDisconnected)
		return
	}

	ws.mu.Lock()
	intentional := ws.intentionalClose
	ws.mu.Unlock()
	if intentional {
		ws.setState(StateDisconnected)
		return
	}

	if err := ws.Connect(context.Background()); err != nil {
		if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
			ws.scheduleReconnect()
		} else {
			ws.setState(StateDisconnected)
		}
	}
}
