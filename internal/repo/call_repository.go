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

// CallMutation is the set of fields a state transition may write. Nil fields
// are left untouched.
type CallMutation struct {
	Status     string
	AnsweredAt *time.Time
	EndedAt    *time.Time
	EndedBy    *string
	Duration   *int
}

// CallRepository owns the calls collection. Transition is the only write path
// for status changes and is a compare-and-swap: the update applies only while
// the stored status is still one of the expected values, so the reaper and a
// racing answer/decline/hangup resolve to exactly one winner.
type CallRepository interface {
	// Insert stores a new call. A partial unique index on conversation_id
	// covers the ringing and ongoing statuses, so inserting a second active
	// call for the same conversation returns ErrDuplicate.
	Insert(ctx context.Context, call *model.Call) (primitive.ObjectID, error)
	FindByID(ctx context.Context, callID string) (*model.Call, error)

	// FindActiveByConversation returns the call in ringing or ongoing for the
	// conversation, or ErrNotFound when there is none.
	FindActiveByConversation(ctx context.Context, conversationID primitive.ObjectID) (*model.Call, error)

	// Transition atomically applies mut when the call's status is in from.
	// ErrPreconditionFailed when the call exists but already left those
	// states; ErrNotFound when no such call.
	Transition(ctx context.Context, callID string, from []string, mut CallMutation) (*model.Call, error)

	// FindStaleRinging returns calls still ringing that were created before
	// cutoff.
	FindStaleRinging(ctx context.Context, cutoff time.Time) ([]model.Call, error)

	// FindLatestRingingFor returns the newest ringing call addressed to
	// receiverID, or ErrNotFound.
	FindLatestRingingFor(ctx context.Context, receiverID string) (*model.Call, error)

	// SetCredentials stores a freshly minted room and token pair on a call
	// whose credentials were lost or never allocated.
	SetCredentials(ctx context.Context, callID, roomName, callerToken, receiverToken string) error

	// CountActive counts calls currently in ringing or ongoing.
	CountActive(ctx context.Context) (int64, error)
}

type callRepository struct {
	mongoRepo *db.Repository[model.Call]
	logger    *zap.Logger
}

func NewCallRepository(con *mongo.Database, collection string, logger *zap.Logger) CallRepository {
	r := &callRepository{
		mongoRepo: db.NewRepository[model.Call](con, collection),
		logger:    logger,
	}
	r.ensureIndexes()
	return r
}

// ensureIndexes creates the partial unique index that holds the one-active-
// call-per-conversation invariant at the database, closing the window between
// the service-level existence check and the insert.
func (r *callRepository) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": []string{model.CallStatusRinging, model.CallStatusOngoing}},
				}),
		},
	}
	if err := r.mongoRepo.EnsureIndexes(ctx, indexes); err != nil {
		r.logger.Error("failed to ensure call indexes", zap.Error(err))
	}
}

func (r *callRepository) Insert(ctx context.Context, call *model.Call) (primitive.ObjectID, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := r.mongoRepo.Create(ctx, *call)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, ErrDuplicate
		}
		r.logger.Error("failed to insert call",
			zap.String("conversation_id", call.ConversationID.Hex()),
			zap.Error(err),
		)
		return primitive.NilObjectID, fmt.Errorf("insert call: %w", err)
	}

	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("insert call: unexpected inserted id %T", result.InsertedID)
	}
	return oid, nil
}

func (r *callRepository) FindByID(ctx context.Context, callID string) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	if _, err := primitive.ObjectIDFromHex(callID); err != nil {
		return nil, ErrInvalidID
	}

	call, err := r.mongoRepo.FindByID(ctx, callID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch call: %w", err)
	}
	return call, nil
}

func (r *callRepository) FindActiveByConversation(ctx context.Context, conversationID primitive.ObjectID) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		In("status", []string{model.CallStatusRinging, model.CallStatusOngoing}).
		Build()

	call, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query active call: %w", err)
	}
	return call, nil
}

func (r *callRepository) Transition(ctx context.Context, callID string, from []string, mut CallMutation) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(callID)
	if err != nil {
		return nil, ErrInvalidID
	}

	filter := db.NewFilter().
		Eq("_id", objectID).
		In("status", from).
		Build()

	update := bson.M{
		"status":     mut.Status,
		"updated_at": time.Now().UTC(),
	}
	if mut.AnsweredAt != nil {
		update["answered_at"] = *mut.AnsweredAt
	}
	if mut.EndedAt != nil {
		update["ended_at"] = *mut.EndedAt
	}
	if mut.EndedBy != nil {
		update["ended_by"] = *mut.EndedBy
	}
	if mut.Duration != nil {
		update["duration"] = *mut.Duration
	}

	call, err := r.mongoRepo.FindOneAndUpdate(ctx, filter, update)
	if err == nil {
		return call, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		r.logger.Error("call transition failed",
			zap.String("call_id", callID),
			zap.String("to", mut.Status),
			zap.Error(err),
		)
		return nil, fmt.Errorf("transition call: %w", err)
	}

	// Nothing matched: distinguish a lost CAS race from a missing call.
	exists, existsErr := r.mongoRepo.Exists(ctx, bson.M{"_id": objectID})
	if existsErr != nil {
		return nil, fmt.Errorf("transition call: %w", existsErr)
	}
	if exists {
		return nil, ErrPreconditionFailed
	}
	return nil, ErrNotFound
}

func (r *callRepository) FindStaleRinging(ctx context.Context, cutoff time.Time) ([]model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("status", model.CallStatusRinging).
		Lt("created_at", cutoff).
		Build()

	calls, err := r.mongoRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query stale calls: %w", err)
	}
	return calls, nil
}

func (r *callRepository) FindLatestRingingFor(ctx context.Context, receiverID string) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("receiver_id", receiverID).
		Eq("status", model.CallStatusRinging).
		Build()

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	call, err := r.mongoRepo.FindOne(ctx, filter, opts)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query ringing call: %w", err)
	}
	return call, nil
}

func (r *callRepository) CountActive(ctx context.Context) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		In("status", []string{model.CallStatusRinging, model.CallStatusOngoing}).
		Build()

	count, err := r.mongoRepo.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count active calls: %w", err)
	}
	return count, nil
}

func (r *callRepository) SetCredentials(ctx context.Context, callID, roomName, callerToken, receiverToken string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, callID, bson.M{
		"room_name":      roomName,
		"caller_token":   callerToken,
		"receiver_token": receiverToken,
		"updated_at":     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("set call credentials: %w", err)
	}
	return nil
}
