package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Call statuses. Ringing and Ongoing are the only live states; the other
// four are terminal and a call never leaves them.
const (
	CallStatusRinging   = "ringing"
	CallStatusOngoing   = "ongoing"
	CallStatusCompleted = "completed"
	CallStatusMissed    = "missed"
	CallStatusDeclined  = "declined"
	CallStatusFailed    = "failed"
)

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Call represents a call session between two users, stored for call history.
// Status is perspective-neutral; who hung up during ringing is recorded in
// EndedBy and surfaced only through StatusLabel.
type Call struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	CallerID       string             `json:"callerId" bson:"caller_id"`
	ReceiverID     string             `json:"receiverId" bson:"receiver_id"`
	CallType       string             `json:"callType" bson:"call_type"` // "audio" or "video"
	Status         string             `json:"status" bson:"status"`
	RoomName       string             `json:"roomName,omitempty" bson:"room_name"`
	CallerToken    string             `json:"callerToken,omitempty" bson:"caller_token"`
	ReceiverToken  string             `json:"receiverToken,omitempty" bson:"receiver_token"`
	AnsweredAt     *time.Time         `json:"answeredAt,omitempty" bson:"answered_at"`
	EndedAt        *time.Time         `json:"endedAt,omitempty" bson:"ended_at"`
	EndedBy        string             `json:"endedBy,omitempty" bson:"ended_by"`
	Duration       int                `json:"duration" bson:"duration"` // seconds, completed calls only
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updated_at"`
}

// IsTerminal reports whether the call can no longer change state.
func (c *Call) IsTerminal() bool {
	switch c.Status {
	case CallStatusCompleted, CallStatusMissed, CallStatusDeclined, CallStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether the call still occupies its conversation.
func (c *Call) IsActive() bool {
	return c.Status == CallStatusRinging || c.Status == CallStatusOngoing
}

// Counterpart returns the other participant's identity.
func (c *Call) Counterpart(userID string) string {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// TokenFor returns the session credential minted for the given participant.
func (c *Call) TokenFor(userID string) string {
	if userID == c.CallerID {
		return c.CallerToken
	}
	if userID == c.ReceiverID {
		return c.ReceiverToken
	}
	return ""
}

// WithoutTokens returns a copy safe to serialize for any viewer. Tokens are
// added back per-recipient by the transport layer.
func (c *Call) WithoutTokens() Call {
	out := *c
	out.CallerToken = ""
	out.ReceiverToken = ""
	return out
}

// StatusLabel maps a stored status to the wording the given viewer should
// see. Presentation only; callers must never persist these strings.
func StatusLabel(c *Call, viewerID string) string {
	switch c.Status {
	case CallStatusRinging:
		if viewerID == c.CallerID {
			return "Calling…"
		}
		return "Incoming call"
	case CallStatusOngoing:
		return "Ongoing call"
	case CallStatusCompleted:
		return "Call ended"
	case CallStatusDeclined:
		if viewerID == c.CallerID {
			return "Call declined"
		}
		return "Declined call"
	case CallStatusFailed:
		return "Call failed"
	case CallStatusMissed:
		// A caller hangup while ringing is a cancellation; a receiver hangup
		// or reaper expiry is a miss.
		if c.EndedBy == c.CallerID {
			return "Cancelled call"
		}
		if viewerID == c.CallerID {
			return "No answer"
		}
		return "Missed call"
	}
	return c.Status
}
