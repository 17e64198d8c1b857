package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/db"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 10 * time.Second
)

// ConversationRepository owns the conversations collection. A conversation is
// created lazily on first contact between a pair; the sorted participant pair
// is the lookup key, so the unordered pair maps to exactly one document.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error)
	FindByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID primitive.ObjectID, preview *model.LastMessage) error
}

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

func NewConversationRepository(con *mongo.Database, collection string, logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: db.NewRepository[model.Conversation](con, collection),
		logger:    logger,
	}
}

func (r *conversationRepository) FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	pair := model.PairKey(userA, userB)
	now := time.Now().UTC()

	filter := db.NewFilter().Eq("participant_ids", pair).Build()
	conv, err := r.mongoRepo.Upsert(ctx,
		filter,
		bson.M{"updated_at": now},
		bson.M{"participant_ids": pair, "created_at": now},
	)
	if err != nil {
		r.logger.Error("failed to find or create conversation",
			zap.Strings("participants", pair),
			zap.Error(err),
		)
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}

	return conv, nil
}

func (r *conversationRepository) FindByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	if _, err := primitive.ObjectIDFromHex(conversationID); err != nil {
		return nil, ErrInvalidID
	}

	conv, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) SetLastMessage(ctx context.Context, conversationID primitive.ObjectID, preview *model.LastMessage) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, conversationID.Hex(), bson.M{
		"last_message": preview,
		"updated_at":   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
