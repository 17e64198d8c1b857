package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/repo"
)

// MessageService persists messages, computes delivery/read flags, and emits
// message events onto the channel. Event loss is tolerable: stored state is
// the source of truth and PollSince converges with push delivery.
type MessageService struct {
	conversations repo.ConversationRepository
	messages      repo.MessageRepository
	channel       channel.Channel
	logger        *zap.Logger
}

func NewMessageService(
	conversations repo.ConversationRepository,
	messages repo.MessageRepository,
	ch channel.Channel,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		channel:       ch,
		logger:        logger,
	}
}

// Send persists a message and notifies the receiver. The delivered flag
// records whether the receiver's push stream was up at send time.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, body, msgType, attachmentURL string) (*model.Message, error) {
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !model.ValidMessageType(msgType) {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidContent, msgType)
	}
	if body == "" && attachmentURL == "" {
		return nil, fmt.Errorf("%w: empty body and no attachment", ErrInvalidContent)
	}

	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	receiverID := conv.Counterpart(senderID)

	msg := &model.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Type:           msgType,
		Body:           body,
		IsDelivered:    false,
		IsRead:         false,
		CreatedAt:      time.Now().UTC(),
	}
	if attachmentURL != "" {
		msg.AttachmentURL = &attachmentURL
	}

	id, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = id

	if err := s.conversations.SetLastMessage(ctx, conv.ID, &model.LastMessage{
		MessageID: id.Hex(),
		Body:      body,
		SenderID:  senderID,
		SentAt:    msg.CreatedAt,
	}); err != nil {
		s.logger.Warn("failed to update last message preview",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	delivered, err := s.channel.Publish(ctx, receiverID, event.NewEnvelope(event.EventMessageNew, event.MessagePayload{
		MessageID:      id.Hex(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Type:           msgType,
		Body:           body,
		AttachmentURL:  attachmentURL,
		Timestamp:      msg.CreatedAt.Unix(),
	}))
	if err != nil {
		s.logger.Warn("message event publish failed",
			zap.String("message_id", id.Hex()),
			zap.Error(err),
		)
	}
	if delivered > 0 {
		if err := s.messages.MarkDelivered(ctx, id); err != nil {
			s.logger.Warn("failed to flag delivery", zap.String("message_id", id.Hex()), zap.Error(err))
		} else {
			msg.IsDelivered = true
		}
	}

	return msg, nil
}

// MarkRead flips every unread message addressed to readerID in one atomic
// update. Idempotent: with nothing unread it changes nothing and emits
// nothing.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(readerID) {
		return 0, ErrNotParticipant
	}

	count, err := s.messages.MarkRead(ctx, conv.ID, readerID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		senderID := conv.Counterpart(readerID)
		if _, err := s.channel.Publish(ctx, senderID, event.NewEnvelope(event.EventMessageRead, event.MessagePayload{
			ConversationID: conversationID,
			SenderID:       senderID,
			ReceiverID:     readerID,
			ReadCount:      count,
			Timestamp:      time.Now().Unix(),
		})); err != nil {
			s.logger.Warn("read event publish failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return count, nil
}

// Delete soft-deletes a message. Only the sender may delete; deleting an
// already-deleted message is a no-op.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID string) error {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrInvalidID) {
			return ErrNotFound
		}
		return err
	}
	if msg.SenderID != requesterID {
		return ErrUnauthorized
	}
	if msg.DeletedAt != nil {
		return nil
	}

	if err := s.messages.SoftDelete(ctx, msg.ID, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := s.channel.Publish(ctx, msg.ReceiverID, event.NewEnvelope(event.EventMessageDeleted, event.MessagePayload{
		MessageID:      messageID,
		ConversationID: msg.ConversationID.Hex(),
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Timestamp:      time.Now().Unix(),
	})); err != nil {
		s.logger.Warn("delete event publish failed", zap.String("message_id", messageID), zap.Error(err))
	}
	return nil
}

// PollSince returns messages created after afterMessageID (all when empty) in
// creation order, marking messages addressed to the caller as read first so
// the returned flags are current. Calling it after push delivery re-surfaces
// no state beyond those idempotent flag updates.
func (s *MessageService) PollSince(ctx context.Context, conversationID, callerID, afterMessageID string) ([]model.Message, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(callerID) {
		return nil, ErrNotParticipant
	}

	var afterID *primitive.ObjectID
	if afterMessageID != "" {
		oid, err := primitive.ObjectIDFromHex(afterMessageID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad message cursor", ErrInvalidContent)
		}
		afterID = &oid
	}

	if _, err := s.MarkRead(ctx, conversationID, callerID); err != nil {
		return nil, err
	}

	return s.messages.FindSince(ctx, conv.ID, afterID)
}

func (s *MessageService) conversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrInvalidID) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conv, nil
}
