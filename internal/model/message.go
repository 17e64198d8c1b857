package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// Message represents a chat message in MongoDB. A message is immutable after
// insert except for the delivered/read flags and the soft-delete marker.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	ReceiverID     string             `json:"receiverId" bson:"receiver_id"`
	Type           string             `json:"type" bson:"type"`
	Body           string             `json:"body" bson:"body"`
	AttachmentURL  *string            `json:"attachmentUrl" bson:"attachment_url"`
	IsDelivered    bool               `json:"isDelivered" bson:"is_delivered"`
	IsRead         bool               `json:"isRead" bson:"is_read"`
	ReadAt         *time.Time         `json:"readAt" bson:"read_at"`
	DeletedAt      *time.Time         `json:"deletedAt" bson:"deleted_at"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
}

// ValidMessageType reports whether t is one of the supported type tags.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}
