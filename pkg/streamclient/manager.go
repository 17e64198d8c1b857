package streamclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Transport selects the push path the manager maintains.
type Transport string

const (
	TransportSSE Transport = "sse"
	TransportWS  Transport = "ws"
)

type pushTransport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnState
}

// Manager maintains at most one push connection at a time, keyed by identity.
// Reconnecting with the identity already connected is a no-op; connecting
// with a different identity tears down the old stream first, so a sign-out
// and sign-in on the same page never leaves two live streams. The bundled
// poller covers gaps while the push path is down.
type Manager struct {
	baseURL      string
	transport    Transport
	config       Config
	pollInterval time.Duration
	dispatcher   *dispatcher

	mu       sync.Mutex
	identity string
	client   pushTransport
	poller   *Poller
}

// NewManager creates a connection manager. config.Identity is ignored; the
// identity is chosen per Connect call.
func NewManager(baseURL string, transport Transport, config Config) *Manager {
	config.defaults()
	return &Manager{
		baseURL:    baseURL,
		transport:  transport,
		config:     config,
		dispatcher: newDispatcher(),
	}
}

// SetPollInterval overrides the fallback polling cadence. Must be called
// before Connect.
func (m *Manager) SetPollInterval(d time.Duration) {
	m.pollInterval = d
}

// OnMessageEvent registers a handler for message:* events from any path.
func (m *Manager) OnMessageEvent(h func(eventType string, p MessagePayload)) {
	m.dispatcher.addMessageHandler(h)
}

// OnCallEvent registers a handler for call:* events from any path.
func (m *Manager) OnCallEvent(h func(eventType string, p CallPayload)) {
	m.dispatcher.addCallHandler(h)
}

// On registers a generic event handler.
func (m *Manager) On(eventType string, h EventHandler) {
	m.dispatcher.addGeneric(eventType, h)
}

// OnConnected registers a handler for the connected meta-event.
func (m *Manager) OnConnected(h func()) {
	m.dispatcher.addConnected(h)
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (m *Manager) OnDisconnected(h func(reason string)) {
	m.dispatcher.addDisconnected(h)
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (m *Manager) OnReconnecting(h func(attempt int, delay time.Duration)) {
	m.dispatcher.addReconnecting(h)
}

// Identity returns the identity the current stream belongs to, or "".
func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// State returns the push connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return StateDisconnected
	}
	return m.client.State()
}

// Connect opens the push stream for identity. When the same identity is
// already connected this is a no-op; a different identity replaces the
// current stream.
func (m *Manager) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("streamclient: identity is required")
	}

	m.mu.Lock()
	if m.identity == identity && m.client != nil {
		client := m.client
		m.mu.Unlock()
		return client.Connect(ctx)
	}

	if m.client != nil {
		_ = m.client.Disconnect()
		m.client = nil
	}
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}

	cfg := m.config
	cfg.Identity = identity

	var client pushTransport
	switch m.transport {
	case TransportWS:
		c := NewWSClient(m.baseURL, cfg)
		c.dispatcher = m.dispatcher
		client = c
	default:
		c := NewSSEClient(m.baseURL, cfg)
		c.dispatcher = m.dispatcher
		client = c
	}

	poller := newPoller(m.baseURL, &cfg, m.pollInterval, m.dispatcher)

	m.identity = identity
	m.client = client
	m.poller = poller
	m.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	poller.Start()
	return nil
}

// Poller exposes the fallback poller so callers can track conversations.
// Nil until the first Connect.
func (m *Manager) Poller() *Poller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poller
}

// Disconnect tears down the push stream and the poller.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	client := m.client
	poller := m.poller
	m.client = nil
	m.poller = nil
	m.identity = ""
	m.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if client != nil {
		return client.Disconnect()
	}
	return nil
}
