package event

import "encoding/json"

// Envelope is the wire format for every event pushed to a client, over SSE
// and WebSocket alike. Events are ephemeral: persistent state is the source
// of truth and a dropped envelope is recovered by polling.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and wraps it. Payload types in this package
// never fail to marshal; an error here indicates a programming mistake and
// yields an envelope with a null payload.
func NewEnvelope(eventType string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return Envelope{Type: eventType, Payload: raw}
}

// Message events.
const (
	EventMessageNew     = "message:new"
	EventMessageRead    = "message:read"
	EventMessageDeleted = "message:deleted"
)

// Call events.
const (
	// EventCallIncoming - sent to the receiver when a call is placed
	EventCallIncoming = "call:incoming"

	// EventCallRinging - sent back to the caller when a call is placed
	EventCallRinging = "call:ringing"

	// EventCallAnswered - sent to both parties when the receiver answers
	EventCallAnswered = "call:answered"

	// EventCallDeclined - sent to the caller when the receiver declines
	EventCallDeclined = "call:declined"

	// EventCallEnded - sent to the counterpart when either party hangs up
	EventCallEnded = "call:ended"

	// EventCallMissed - sent to both parties when a ringing call expires
	EventCallMissed = "call:missed"
)
