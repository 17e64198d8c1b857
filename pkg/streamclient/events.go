package streamclient

import "encoding/json"

// Event types pushed by the server.
const (
	EventMessageNew     = "message:new"
	EventMessageRead    = "message:read"
	EventMessageDeleted = "message:deleted"

	EventCallIncoming = "call:incoming"
	EventCallRinging  = "call:ringing"
	EventCallAnswered = "call:answered"
	EventCallDeclined = "call:declined"
	EventCallEnded    = "call:ended"
	EventCallMissed   = "call:missed"
)

// CallPayloadVersion is the call payload schema version this client speaks.
const CallPayloadVersion = 1

// Envelope is the wire format for every pushed event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessagePayload accompanies message:* events.
type MessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Type           string `json:"type,omitempty"`
	Body           string `json:"body,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	ReadCount      int64  `json:"readCount,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// CallPayload accompanies call:* events.
type CallPayload struct {
	Version        int    `json:"v"`
	CallID         string `json:"callId"`
	ConversationID string `json:"conversationId"`
	CallerID       string `json:"callerId"`
	ReceiverID     string `json:"receiverId"`
	CallType       string `json:"callType"`
	Status         string `json:"status"`
	RoomName       string `json:"roomName,omitempty"`
	Token          string `json:"token,omitempty"`
	EndedBy        string `json:"endedBy,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

func newEnvelope(eventType string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return Envelope{Type: eventType, Payload: raw}
}
