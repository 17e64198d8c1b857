package model

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation represents a two-party conversation in MongoDB. ParticipantIDs
// is always the sorted pair, so the unordered pair of identities maps to
// exactly one document.
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ParticipantIDs []string           `json:"participantIds" bson:"participant_ids"`
	LastMessage    *LastMessage       `json:"lastMessage" bson:"last_message"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updated_at"`
}

// LastMessage stores the most recent message preview.
type LastMessage struct {
	MessageID string    `json:"messageId" bson:"message_id"`
	Body      string    `json:"body" bson:"body"`
	SenderID  string    `json:"senderId" bson:"sender_id"`
	SentAt    time.Time `json:"sentAt" bson:"sent_at"`
}

// PairKey returns the two identities in canonical (sorted) order.
func PairKey(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other participant, or "" when userID is not a
// participant.
func (c *Conversation) Counterpart(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	// Self-conversation; the counterpart is the same identity.
	return userID
}
