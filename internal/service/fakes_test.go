package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/repo"
)

// In-memory repository fakes with the same contracts as the Mongo
// implementations, so the services can be exercised without a database.

type fakeConversationRepo struct {
	mu     sync.Mutex
	byID   map[string]*model.Conversation
	byPair map[string]string
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		byID:   make(map[string]*model.Conversation),
		byPair: make(map[string]string),
	}
}

func pairString(a, b string) string {
	return strings.Join(model.PairKey(a, b), "|")
}

func (f *fakeConversationRepo) FindOrCreate(_ context.Context, userA, userB string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := pairString(userA, userB)
	if id, ok := f.byPair[key]; ok {
		c := *f.byID[id]
		return &c, nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:             primitive.NewObjectID(),
		ParticipantIDs: model.PairKey(userA, userB),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.byID[conv.ID.Hex()] = conv
	f.byPair[key] = conv.ID.Hex()
	c := *conv
	return &c, nil
}

func (f *fakeConversationRepo) FindByID(_ context.Context, conversationID string) (*model.Conversation, error) {
	if _, err := primitive.ObjectIDFromHex(conversationID); err != nil {
		return nil, repo.ErrInvalidID
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byID[conversationID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (f *fakeConversationRepo) SetLastMessage(_ context.Context, conversationID primitive.ObjectID, preview *model.LastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byID[conversationID.Hex()]
	if !ok {
		return repo.ErrNotFound
	}
	conv.LastMessage = preview
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*model.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*model.Message)}
}

func (f *fakeMessageRepo) Insert(_ context.Context, msg *model.Message) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := primitive.NewObjectID()
	stored := *msg
	stored.ID = id
	f.messages[id.Hex()] = &stored
	return id, nil
}

func (f *fakeMessageRepo) FindByID(_ context.Context, messageID string) (*model.Message, error) {
	if _, err := primitive.ObjectIDFromHex(messageID); err != nil {
		return nil, repo.ErrInvalidID
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	m := *msg
	return &m, nil
}

func (f *fakeMessageRepo) FindSince(_ context.Context, conversationID primitive.ObjectID, afterID *primitive.ObjectID) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Message
	for _, msg := range f.messages {
		if msg.ConversationID != conversationID || msg.DeletedAt != nil {
			continue
		}
		if afterID != nil && msg.ID.Hex() <= afterID.Hex() {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (f *fakeMessageRepo) MarkDelivered(_ context.Context, messageID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[messageID.Hex()]; ok {
		msg.IsDelivered = true
	}
	return nil
}

func (f *fakeMessageRepo) MarkRead(_ context.Context, conversationID primitive.ObjectID, readerID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, msg := range f.messages {
		if msg.ConversationID != conversationID || msg.ReceiverID != readerID {
			continue
		}
		if msg.IsRead || msg.DeletedAt != nil {
			continue
		}
		msg.IsRead = true
		msg.IsDelivered = true
		readAt := at
		msg.ReadAt = &readAt
		count++
	}
	return count, nil
}

func (f *fakeMessageRepo) SoftDelete(_ context.Context, messageID primitive.ObjectID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[messageID.Hex()]; ok {
		deletedAt := at
		msg.DeletedAt = &deletedAt
	}
	return nil
}

type fakeCallRepo struct {
	mu    sync.Mutex
	calls map[string]*model.Call
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{calls: make(map[string]*model.Call)}
}

func (f *fakeCallRepo) Insert(_ context.Context, call *model.Call) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if call.IsActive() {
		// Mirror the partial unique index on conversation_id.
		for _, existing := range f.calls {
			if existing.ConversationID == call.ConversationID && existing.IsActive() {
				return primitive.NilObjectID, repo.ErrDuplicate
			}
		}
	}
	id := primitive.NewObjectID()
	stored := *call
	stored.ID = id
	f.calls[id.Hex()] = &stored
	return id, nil
}

// put stores a call as-is, for backdating tests.
func (f *fakeCallRepo) put(call *model.Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if call.ID.IsZero() {
		call.ID = primitive.NewObjectID()
	}
	stored := *call
	f.calls[call.ID.Hex()] = &stored
}

func (f *fakeCallRepo) FindByID(_ context.Context, callID string) (*model.Call, error) {
	if _, err := primitive.ObjectIDFromHex(callID); err != nil {
		return nil, repo.ErrInvalidID
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *call
	return &c, nil
}

func (f *fakeCallRepo) FindActiveByConversation(_ context.Context, conversationID primitive.ObjectID) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if call.ConversationID == conversationID && call.IsActive() {
			c := *call
			return &c, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeCallRepo) Transition(_ context.Context, callID string, from []string, mut repo.CallMutation) (*model.Call, error) {
	if _, err := primitive.ObjectIDFromHex(callID); err != nil {
		return nil, repo.ErrInvalidID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	call, ok := f.calls[callID]
	if !ok {
		return nil, repo.ErrNotFound
	}

	matched := false
	for _, s := range from {
		if call.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, repo.ErrPreconditionFailed
	}

	call.Status = mut.Status
	call.UpdatedAt = time.Now().UTC()
	if mut.AnsweredAt != nil {
		call.AnsweredAt = mut.AnsweredAt
	}
	if mut.EndedAt != nil {
		call.EndedAt = mut.EndedAt
	}
	if mut.EndedBy != nil {
		call.EndedBy = *mut.EndedBy
	}
	if mut.Duration != nil {
		call.Duration = *mut.Duration
	}
	c := *call
	return &c, nil
}

func (f *fakeCallRepo) FindStaleRinging(_ context.Context, cutoff time.Time) ([]model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Call
	for _, call := range f.calls {
		if call.Status == model.CallStatusRinging && call.CreatedAt.Before(cutoff) {
			out = append(out, *call)
		}
	}
	return out, nil
}

func (f *fakeCallRepo) FindLatestRingingFor(_ context.Context, receiverID string) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *model.Call
	for _, call := range f.calls {
		if call.Status != model.CallStatusRinging || call.ReceiverID != receiverID {
			continue
		}
		if latest == nil || call.CreatedAt.After(latest.CreatedAt) {
			latest = call
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (f *fakeCallRepo) SetCredentials(_ context.Context, callID, roomName, callerToken, receiverToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return repo.ErrNotFound
	}
	call.RoomName = roomName
	call.CallerToken = callerToken
	call.ReceiverToken = receiverToken
	return nil
}

func (f *fakeCallRepo) CountActive(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, call := range f.calls {
		if call.IsActive() {
			count++
		}
	}
	return count, nil
}

type fakeAllocator struct {
	mu   sync.Mutex
	fail bool
}

func (a *fakeAllocator) Allocate(roomName, identity string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return "", fmt.Errorf("allocator offline")
	}
	return "token-" + identity + "@" + roomName, nil
}

func (a *fakeAllocator) setFail(fail bool) {
	a.mu.Lock()
	a.fail = fail
	a.mu.Unlock()
}
