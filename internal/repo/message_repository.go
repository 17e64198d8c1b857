package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/db"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
)

// MessageRepository owns the messages collection. Messages are append-only
// plus flag updates; soft-deleted messages stay in the collection and are
// filtered out of reads.
type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) (primitive.ObjectID, error)
	FindByID(ctx context.Context, messageID string) (*model.Message, error)

	// FindSince returns the conversation's messages with ids greater than
	// afterID (all when afterID is nil), in creation order, excluding
	// soft-deleted ones. ObjectIDs are time-ordered, so id order is creation
	// order.
	FindSince(ctx context.Context, conversationID primitive.ObjectID, afterID *primitive.ObjectID) ([]model.Message, error)

	MarkDelivered(ctx context.Context, messageID primitive.ObjectID) error

	// MarkRead flips is_read on every unread message addressed to readerID in
	// the conversation, in one update, and returns the number changed.
	MarkRead(ctx context.Context, conversationID primitive.ObjectID, readerID string, at time.Time) (int64, error)

	SoftDelete(ctx context.Context, messageID primitive.ObjectID, at time.Time) error
}

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(con *mongo.Database, collection string, logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: db.NewRepository[model.Message](con, collection),
		logger:    logger,
	}
}

func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) (primitive.ObjectID, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := m.mongoRepo.Create(ctx, *msg)
	if err != nil {
		m.logger.Error("failed to insert message",
			zap.String("conversation_id", msg.ConversationID.Hex()),
			zap.Error(err),
		)
		return primitive.NilObjectID, fmt.Errorf("insert message: %w", err)
	}

	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("insert message: unexpected inserted id %T", result.InsertedID)
	}

	m.logger.Debug("message inserted",
		zap.String("message_id", oid.Hex()),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)
	return oid, nil
}

func (m *messageRepository) FindByID(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	if _, err := primitive.ObjectIDFromHex(messageID); err != nil {
		return nil, ErrInvalidID
	}

	msg, err := m.mongoRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return msg, nil
}

func (m *messageRepository) FindSince(ctx context.Context, conversationID primitive.ObjectID, afterID *primitive.ObjectID) ([]model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	fb := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("deleted_at", nil)
	if afterID != nil {
		fb.Gt("_id", *afterID)
	}
	filter := fb.Build()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	msgs, err := m.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		m.logger.Error("failed to query messages",
			zap.String("conversation_id", conversationID.Hex()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

func (m *messageRepository) MarkDelivered(ctx context.Context, messageID primitive.ObjectID) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.mongoRepo.UpdateByID(ctx, messageID.Hex(), bson.M{"is_delivered": true})
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (m *messageRepository) MarkRead(ctx context.Context, conversationID primitive.ObjectID, readerID string, at time.Time) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("receiver_id", readerID).
		Eq("is_read", false).
		Eq("deleted_at", nil).
		Build()

	result, err := m.mongoRepo.UpdateMany(ctx, filter, bson.M{
		"is_read":      true,
		"is_delivered": true,
		"read_at":      at,
	})
	if err != nil {
		m.logger.Error("failed to mark messages read",
			zap.String("conversation_id", conversationID.Hex()),
			zap.String("reader_id", readerID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return result.ModifiedCount, nil
}

func (m *messageRepository) SoftDelete(ctx context.Context, messageID primitive.ObjectID, at time.Time) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.mongoRepo.UpdateByID(ctx, messageID.Hex(), bson.M{"deleted_at": at})
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}
