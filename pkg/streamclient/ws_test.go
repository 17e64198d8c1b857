package streamclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestWSDeliversEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		env := newEnvelope(EventCallIncoming, CallPayload{CallID: "c1", Status: "ringing", Timestamp: 1})
		raw, _ := json.Marshal(env)
		_ = conn.Write(r.Context(), websocket.MessageText, raw)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewWSClient(srv.URL, Config{Identity: "alice"})
	got := make(chan CallPayload, 1)
	c.OnCallEvent(func(_ string, p CallPayload) { got <- p })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	select {
	case p := <-got:
		assert.Equal(t, "c1", p.CallID)
		assert.Equal(t, "ringing", p.Status)
	case <-time.After(time.Second):
		t.Fatal("pushed event never reached the handler")
	}
}

func TestWSDisconnectDuringBackoffStopsRedial(t *testing.T) {
	var opens atomic.Int32
	// Every connection is closed right after the handshake, so the client
	// spends its time in backoff.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opens.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	c := NewWSClient(srv.URL, Config{
		Identity:             "alice",
		AutoReconnect:        true,
		MaxReconnectAttempts: 100,
		ReconnectBaseDelay:   200 * time.Millisecond,
		ReconnectMaxDelay:    200 * time.Millisecond,
	})
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool { return c.State() == StateReconnecting },
		time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())

	time.Sleep(100 * time.Millisecond)
	before := opens.Load()
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, before, opens.Load(), "no redial after an explicit disconnect")
	assert.Equal(t, StateDisconnected, c.State())
}
