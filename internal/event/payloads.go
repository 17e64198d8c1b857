package event

import (
	"errors"
	"strconv"
	"strings"
)

// MessagePayload accompanies message:* events. It carries enough for the
// receiving client to update its local view without a follow-up fetch.
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

// CallPayload accompanies call:* events. Version identifies the payload
// schema so clients can keep decoding older shapes after upgrades.
type CallPayload struct {
	Version        int    `json:"v"`
	CallID         string `json:"callId"`
	ConversationID string `json:"conversationId"`
	CallerID       string `json:"callerId"`
	ReceiverID     string `json:"receiverId"`
	CallType       string `json:"callType"`
	Status         string `json:"status"`
	RoomName       string `json:"roomName,omitempty"`
	Token          string `json:"token,omitempty"` // credential for the recipient of this envelope
	EndedBy        string `json:"endedBy,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// CallPayloadVersion is the schema version emitted by this server.
const CallPayloadVersion = 1

const legacyCallPrefix = "__call__:"

// ErrNotLegacyCallText reports that a message body does not carry the
// historical free-text call-event encoding.
var ErrNotLegacyCallText = errors.New("not a legacy call event body")

// DecodeLegacyCallText decodes the historical free-text call encoding that
// older clients embedded in message bodies: "__call__:<type>:<outcome>" with
// an optional ":<seconds>" suffix. Decoding path only; nothing emits this
// form anymore.
func DecodeLegacyCallText(body string) (*CallPayload, error) {
	if !strings.HasPrefix(body, legacyCallPrefix) {
		return nil, ErrNotLegacyCallText
	}
	parts := strings.Split(strings.TrimPrefix(body, legacyCallPrefix), ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrNotLegacyCallText
	}

	p := &CallPayload{
		Version:  0,
		CallType: parts[0],
		Status:   parts[1],
	}
	if len(parts) >= 3 {
		secs, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, ErrNotLegacyCallText
		}
		p.Duration = secs
	}
	return p, nil
}
