package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
)

type callFixture struct {
	svc       *CallService
	calls     *fakeCallRepo
	convs     *fakeConversationRepo
	channel   *channel.Memory
	allocator *fakeAllocator
}

func newCallFixture(t *testing.T, ringTimeout time.Duration) *callFixture {
	t.Helper()
	logger := zap.NewNop()
	ch := channel.NewMemory(logger)
	t.Cleanup(func() { _ = ch.Close() })

	calls := newFakeCallRepo()
	convs := newFakeConversationRepo()
	allocator := &fakeAllocator{}
	return &callFixture{
		svc:       NewCallService(convs, calls, ch, allocator, ringTimeout, logger),
		calls:     calls,
		convs:     convs,
		channel:   ch,
		allocator: allocator,
	}
}

func receiveEvent(t *testing.T, sub *channel.Subscription) event.Envelope {
	t.Helper()
	select {
	case env := <-sub.C():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Envelope{}
	}
}

func TestPlaceCall(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	callerSub, err := f.channel.Subscribe("alice")
	require.NoError(t, err)
	defer callerSub.Close()
	receiverSub, err := f.channel.Subscribe("bob")
	require.NoError(t, err)
	defer receiverSub.Close()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeVideo)
	require.NoError(t, err)

	assert.Equal(t, model.CallStatusRinging, call.Status)
	assert.NotEmpty(t, call.RoomName)
	assert.NotEmpty(t, call.CallerToken)
	assert.NotEmpty(t, call.ReceiverToken)
	assert.NotEqual(t, call.CallerToken, call.ReceiverToken)

	incoming := receiveEvent(t, receiverSub)
	assert.Equal(t, event.EventCallIncoming, incoming.Type)
	ringing := receiveEvent(t, callerSub)
	assert.Equal(t, event.EventCallRinging, ringing.Type)
}

func TestPlaceCallValidation(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	_, err := f.svc.Place(ctx, "alice", "bob", "hologram")
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = f.svc.Place(ctx, "alice", "alice", model.CallTypeAudio)
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = f.svc.Place(ctx, "", "bob", model.CallTypeAudio)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestPlaceCallRejectsSecondActiveCall(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	_, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Place(ctx, "bob", "alice", model.CallTypeVideo)
	assert.ErrorIs(t, err, ErrActiveCallExists)
}

func TestPlaceCallConcurrentAttemptsKeepOneActive(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrActiveCallExists)
		}
	}
	assert.Equal(t, 1, succeeded)

	active, err := f.calls.CountActive(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, active)
}

func TestPlaceCallAfterPreviousEnded(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	first, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Decline(ctx, first.ID.Hex(), "bob")
	require.NoError(t, err)

	_, err = f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	assert.NoError(t, err)
}

func TestAnswerCall(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeVideo)
	require.NoError(t, err)

	answered, err := f.svc.Answer(ctx, call.ID.Hex(), "bob")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusOngoing, answered.Status)
	require.NotNil(t, answered.AnsweredAt)
}

func TestAnswerCallOnlyReceiver(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeVideo)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, call.ID.Hex(), "alice")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Answer(ctx, call.ID.Hex(), "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAnswerCallNoLongerRinging(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Decline(ctx, call.ID.Hex(), "bob")
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, call.ID.Hex(), "bob")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAnswerBackfillsMissingCredentials(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	conv, err := f.convs.FindOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	stale := &model.Call{
		ConversationID: conv.ID,
		CallerID:       "alice",
		ReceiverID:     "bob",
		CallType:       model.CallTypeAudio,
		Status:         model.CallStatusRinging,
		CreatedAt:      time.Now().UTC(),
	}
	f.calls.put(stale)

	answered, err := f.svc.Answer(ctx, stale.ID.Hex(), "bob")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusOngoing, answered.Status)
	assert.NotEmpty(t, answered.RoomName)
	assert.NotEmpty(t, answered.CallerToken)
	assert.NotEmpty(t, answered.ReceiverToken)
}

func TestAnswerFailsWhenCredentialsCannotBeMinted(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	conv, err := f.convs.FindOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	stale := &model.Call{
		ConversationID: conv.ID,
		CallerID:       "alice",
		ReceiverID:     "bob",
		CallType:       model.CallTypeAudio,
		Status:         model.CallStatusRinging,
		CreatedAt:      time.Now().UTC(),
	}
	f.calls.put(stale)
	f.allocator.setFail(true)

	_, err = f.svc.Answer(ctx, stale.ID.Hex(), "bob")
	assert.ErrorIs(t, err, ErrTransportUnavailable)

	after, err := f.calls.FindByID(ctx, stale.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusFailed, after.Status)
}

func TestDeclineCall(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)

	declined, err := f.svc.Decline(ctx, call.ID.Hex(), "bob")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusDeclined, declined.Status)
	assert.Equal(t, "bob", declined.EndedBy)

	_, err = f.svc.Decline(ctx, call.ID.Hex(), "bob")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEndOngoingCallRecordsDuration(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeVideo)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, call.ID.Hex(), "bob")
	require.NoError(t, err)

	// Backdate the answer so the computed duration is meaningful.
	answeredAt := time.Now().UTC().Add(-30 * time.Second)
	f.calls.mu.Lock()
	f.calls.calls[call.ID.Hex()].AnsweredAt = &answeredAt
	f.calls.mu.Unlock()

	ended, err := f.svc.End(ctx, call.ID.Hex(), "alice")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusCompleted, ended.Status)
	assert.InDelta(t, 30, ended.Duration, 2)
	require.NotNil(t, ended.EndedAt)
}

func TestEndIsIdempotent(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, call.ID.Hex(), "bob")
	require.NoError(t, err)

	first, err := f.svc.End(ctx, call.ID.Hex(), "bob")
	require.NoError(t, err)

	// The page-unload beacon often races the explicit hangup.
	second, err := f.svc.End(ctx, call.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Duration, second.Duration)
}

func TestCallerHangupWhileRingingIsCancellation(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, call.ID.Hex(), "alice")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusMissed, ended.Status)
	assert.Equal(t, "alice", ended.EndedBy)

	assert.Equal(t, "Cancelled call", model.StatusLabel(ended, "bob"))
	assert.Equal(t, "Cancelled call", model.StatusLabel(ended, "alice"))
}

func TestEndByOutsiderRejected(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.End(ctx, call.ID.Hex(), "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReapStaleRinging(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	conv, err := f.convs.FindOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	stale := &model.Call{
		ID:             primitive.NewObjectID(),
		ConversationID: conv.ID,
		CallerID:       "alice",
		ReceiverID:     "bob",
		CallType:       model.CallTypeAudio,
		Status:         model.CallStatusRinging,
		CreatedAt:      time.Now().UTC().Add(-46 * time.Second),
	}
	f.calls.put(stale)

	reaped, err := f.svc.ReapStaleRinging(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	after, err := f.calls.FindByID(ctx, stale.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusMissed, after.Status)
	assert.Empty(t, after.EndedBy)
	assert.Equal(t, "No answer", model.StatusLabel(after, "alice"))
	assert.Equal(t, "Missed call", model.StatusLabel(after, "bob"))

	// A second sweep finds nothing left to expire.
	reaped, err = f.svc.ReapStaleRinging(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestReapLeavesFreshCallsAlone(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	call, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeAudio)
	require.NoError(t, err)

	reaped, err := f.svc.ReapStaleRinging(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	after, err := f.calls.FindByID(ctx, call.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRinging, after.Status)
}

func TestPollRinging(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	none, err := f.svc.PollRinging(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, none)

	placed, err := f.svc.Place(ctx, "alice", "bob", model.CallTypeVideo)
	require.NoError(t, err)

	found, err := f.svc.PollRinging(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, placed.ID, found.ID)

	// The caller has no ringing call addressed to them.
	none, err = f.svc.PollRinging(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPollRingingSweepsExpiredFirst(t *testing.T) {
	f := newCallFixture(t, 45*time.Second)
	ctx := context.Background()

	conv, err := f.convs.FindOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	stale := &model.Call{
		ID:             primitive.NewObjectID(),
		ConversationID: conv.ID,
		CallerID:       "alice",
		ReceiverID:     "bob",
		CallType:       model.CallTypeAudio,
		Status:         model.CallStatusRinging,
		CreatedAt:      time.Now().UTC().Add(-2 * time.Minute),
	}
	f.calls.put(stale)

	found, err := f.svc.PollRinging(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, found)
}
