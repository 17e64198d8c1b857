package streamclient

import (
	"net/http"
	"time"
)

// Config configures stream clients.
type Config struct {
	// Identity is the user the stream is opened for.
	Identity string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// HeartbeatTimeout is how long the SSE watchdog tolerates a silent
	// stream before forcing a reconnect. The server emits comment frames
	// well inside this window.
	HeartbeatTimeout time.Duration

	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 75 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)
