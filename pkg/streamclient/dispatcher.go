package streamclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventHandler is the generic event callback type.
type EventHandler func(eventType string, payload json.RawMessage)

// dedupeWindow bounds how many recently seen event keys are remembered.
// Push and poll can surface the same fact; the window absorbs the overlap.
const dedupeWindow = 512

type dispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]EventHandler
	onMessage      []func(string, MessagePayload)
	onCall         []func(string, CallPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)

	seen     map[string]struct{}
	seenRing []string
	seenPos  int
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		generic:  make(map[string][]EventHandler),
		seen:     make(map[string]struct{}, dedupeWindow),
		seenRing: make([]string, dedupeWindow),
	}
}

// markSeen records the key and reports whether it was already present.
// Caller must hold d.mu.
func (d *dispatcher) markSeen(key string) bool {
	if _, dup := d.seen[key]; dup {
		return true
	}
	if old := d.seenRing[d.seenPos]; old != "" {
		delete(d.seen, old)
	}
	d.seenRing[d.seenPos] = key
	d.seenPos = (d.seenPos + 1) % dedupeWindow
	d.seen[key] = struct{}{}
	return false
}

func (d *dispatcher) dispatch(env Envelope) {
	d.mu.Lock()

	var (
		msg    MessagePayload
		call   CallPayload
		isMsg  bool
		isCall bool
	)
	switch env.Type {
	case EventMessageNew, EventMessageRead, EventMessageDeleted:
		if json.Unmarshal(env.Payload, &msg) == nil {
			key := fmt.Sprintf("%s|%s|%d|%d", env.Type, msg.MessageID, msg.ReadCount, msg.Timestamp)
			if d.markSeen(key) {
				d.mu.Unlock()
				return
			}
			isMsg = true
		}
	case EventCallIncoming, EventCallRinging, EventCallAnswered,
		EventCallDeclined, EventCallEnded, EventCallMissed:
		if json.Unmarshal(env.Payload, &call) == nil {
			key := fmt.Sprintf("%s|%s|%s", env.Type, call.CallID, call.Status)
			if d.markSeen(key) {
				d.mu.Unlock()
				return
			}
			isCall = true
		}
	}

	msgHandlers := append([]func(string, MessagePayload){}, d.onMessage...)
	callHandlers := append([]func(string, CallPayload){}, d.onCall...)
	genHandlers := append([]EventHandler{}, d.generic[env.Type]...)
	d.mu.Unlock()

	// Handlers run on the read loop goroutine so each handler observes events
	// in arrival order. A slow handler slows the stream rather than reordering
	// it.
	if isMsg {
		for _, h := range msgHandlers {
			h(env.Type, msg)
		}
	}
	if isCall {
		for _, h := range callHandlers {
			h(env.Type, call)
		}
	}
	for _, h := range genHandlers {
		h(env.Type, env.Payload)
	}
}

func (d *dispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *dispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (d *dispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

func (d *dispatcher) addMessageHandler(h func(string, MessagePayload)) {
	d.mu.Lock()
	d.onMessage = append(d.onMessage, h)
	d.mu.Unlock()
}

func (d *dispatcher) addCallHandler(h func(string, CallPayload)) {
	d.mu.Lock()
	d.onCall = append(d.onCall, h)
	d.mu.Unlock()
}

func (d *dispatcher) addGeneric(eventType string, h EventHandler) {
	d.mu.Lock()
	d.generic[eventType] = append(d.generic[eventType], h)
	d.mu.Unlock()
}

func (d *dispatcher) addConnected(h func()) {
	d.mu.Lock()
	d.onConnected = append(d.onConnected, h)
	d.mu.Unlock()
}

func (d *dispatcher) addDisconnected(h func(string)) {
	d.mu.Lock()
	d.onDisconnected = append(d.onDisconnected, h)
	d.mu.Unlock()
}

func (d *dispatcher) addReconnecting(h func(int, time.Duration)) {
	d.mu.Lock()
	d.onReconnecting = append(d.onReconnecting, h)
	d.mu.Unlock()
}
