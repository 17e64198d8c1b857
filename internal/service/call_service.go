package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/channel"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/event"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/repo"
)

// endAttempts bounds the End retry loop. Statuses only move forward, so two
// CAS losses in a row already means another terminator won.
const endAttempts = 3

// CallService owns the call state machine. Every status change goes through
// the repository's conditional update, so concurrent answer/decline/hangup
// and the stale-ringing reaper resolve to exactly one winner per call.
type CallService struct {
	conversations repo.ConversationRepository
	calls         repo.CallRepository
	channel       channel.Channel
	credentials   CredentialAllocator
	ringTimeout   time.Duration
	logger        *zap.Logger
}

func NewCallService(
	conversations repo.ConversationRepository,
	calls repo.CallRepository,
	ch channel.Channel,
	credentials CredentialAllocator,
	ringTimeout time.Duration,
	logger *zap.Logger,
) *CallService {
	if ringTimeout <= 0 {
		ringTimeout = 45 * time.Second
	}
	return &CallService{
		conversations: conversations,
		calls:         calls,
		channel:       ch,
		credentials:   credentials,
		ringTimeout:   ringTimeout,
		logger:        logger,
	}
}

// Place creates a ringing call between the pair, allocating session
// credentials for both parties. At most one active call may exist per
// conversation; expired ringing calls are swept before the check.
func (s *CallService) Place(ctx context.Context, callerID, receiverID, callType string) (*model.Call, error) {
	if callType != model.CallTypeAudio && callType != model.CallTypeVideo {
		return nil, fmt.Errorf("%w: call type must be audio or video", ErrInvalidContent)
	}
	if callerID == "" || receiverID == "" || callerID == receiverID {
		return nil, fmt.Errorf("%w: caller and receiver must be two distinct users", ErrInvalidContent)
	}

	conv, err := s.conversations.FindOrCreate(ctx, callerID, receiverID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ReapStaleRinging(ctx); err != nil {
		s.logger.Warn("stale call sweep failed", zap.Error(err))
	}

	if _, err := s.calls.FindActiveByConversation(ctx, conv.ID); err == nil {
		return nil, ErrActiveCallExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	roomName := "call_" + uuid.NewString()
	callerToken, err := s.credentials.Allocate(roomName, callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	receiverToken, err := s.credentials.Allocate(roomName, receiverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	now := time.Now().UTC()
	call := &model.Call{
		ConversationID: conv.ID,
		CallerID:       callerID,
		ReceiverID:     receiverID,
		CallType:       callType,
		Status:         model.CallStatusRinging,
		RoomName:       roomName,
		CallerToken:    callerToken,
		ReceiverToken:  receiverToken,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := s.calls.Insert(ctx, call)
	if err != nil {
		// The unique index caught a concurrent Place that won the insert race
		// after our existence check.
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrActiveCallExists
		}
		return nil, err
	}
	call.ID = id

	s.logger.Info("call placed",
		zap.String("call_id", id.Hex()),
		zap.String("caller_id", callerID),
		zap.String("receiver_id", receiverID),
		zap.String("call_type", callType),
	)

	s.notify(ctx, receiverID, event.EventCallIncoming, call)
	s.notify(ctx, callerID, event.EventCallRinging, call)
	return call, nil
}

// Answer transitions ringing to ongoing. Only the receiver may answer, and
// answering a call that is no longer ringing is a hard error the UI surfaces.
func (s *CallService) Answer(ctx context.Context, callID, answererID string) (*model.Call, error) {
	call, err := s.find(ctx, callID)
	if err != nil {
		return nil, err
	}
	if answererID != call.ReceiverID {
		return nil, ErrUnauthorized
	}

	if call.CallerToken == "" || call.ReceiverToken == "" {
		if err := s.backfillCredentials(ctx, call); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	updated, err := s.calls.Transition(ctx, callID, []string{model.CallStatusRinging}, repo.CallMutation{
		Status:     model.CallStatusOngoing,
		AnsweredAt: &now,
	})
	if err != nil {
		if errors.Is(err, repo.ErrPreconditionFailed) {
			return nil, ErrInvalidTransition
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.logger.Info("call answered", zap.String("call_id", callID))
	s.notify(ctx, updated.CallerID, event.EventCallAnswered, updated)
	s.notify(ctx, updated.ReceiverID, event.EventCallAnswered, updated)
	return updated, nil
}

// Decline transitions ringing to declined. Receiver only; hard error when
// the call already left ringing.
func (s *CallService) Decline(ctx context.Context, callID, declinerID string) (*model.Call, error) {
	call, err := s.find(ctx, callID)
	if err != nil {
		return nil, err
	}
	if declinerID != call.ReceiverID {
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	updated, err := s.calls.Transition(ctx, callID, []string{model.CallStatusRinging}, repo.CallMutation{
		Status:  model.CallStatusDeclined,
		EndedAt: &now,
		EndedBy: &declinerID,
	})
	if err != nil {
		if errors.Is(err, repo.ErrPreconditionFailed) {
			return nil, ErrInvalidTransition
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.logger.Info("call declined", zap.String("call_id", callID))
	s.notify(ctx, updated.CallerID, event.EventCallDeclined, updated)
	return updated, nil
}

// End terminates a call from either live state. Idempotent: ending an
// already-terminal call returns it unchanged with no error, which is what
// page-unload beacons racing explicit hangups need. enderID may be empty on
// the beacon path.
func (s *CallService) End(ctx context.Context, callID, enderID string) (*model.Call, error) {
	for attempt := 0; attempt < endAttempts; attempt++ {
		call, err := s.find(ctx, callID)
		if err != nil {
			return nil, err
		}
		if enderID != "" && enderID != call.CallerID && enderID != call.ReceiverID {
			return nil, ErrUnauthorized
		}
		if call.IsTerminal() {
			return call, nil
		}

		now := time.Now().UTC()
		var updated *model.Call
		switch call.Status {
		case model.CallStatusOngoing:
			duration := 0
			if call.AnsweredAt != nil {
				duration = int(now.Sub(*call.AnsweredAt).Seconds())
			}
			updated, err = s.calls.Transition(ctx, callID, []string{model.CallStatusOngoing}, repo.CallMutation{
				Status:   model.CallStatusCompleted,
				EndedAt:  &now,
				EndedBy:  &enderID,
				Duration: &duration,
			})
		case model.CallStatusRinging:
			// Caller hangup while ringing is a cancellation; both store as
			// missed, EndedBy tells the presentation layer which it was.
			updated, err = s.calls.Transition(ctx, callID, []string{model.CallStatusRinging}, repo.CallMutation{
				Status:  model.CallStatusMissed,
				EndedAt: &now,
				EndedBy: &enderID,
			})
		default:
			return nil, ErrInvalidTransition
		}

		if err != nil {
			if errors.Is(err, repo.ErrPreconditionFailed) {
				// Lost the race; re-read and either no-op or end the new state.
				continue
			}
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}

		s.logger.Info("call ended",
			zap.String("call_id", callID),
			zap.String("status", updated.Status),
			zap.Int("duration", updated.Duration),
		)
		if enderID == "" {
			s.notify(ctx, updated.CallerID, event.EventCallEnded, updated)
			s.notify(ctx, updated.ReceiverID, event.EventCallEnded, updated)
		} else {
			s.notify(ctx, updated.Counterpart(enderID), event.EventCallEnded, updated)
		}
		return updated, nil
	}
	return nil, ErrInvalidTransition
}

// ReapStaleRinging expires ringing calls older than the configured timeout to
// missed. Each expiry is a conditional update, so a call is reaped exactly
// once no matter how many sweeps observe it.
func (s *CallService) ReapStaleRinging(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ringTimeout)
	stale, err := s.calls.FindStaleRinging(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range stale {
		call := &stale[i]
		now := time.Now().UTC()
		updated, err := s.calls.Transition(ctx, call.ID.Hex(), []string{model.CallStatusRinging}, repo.CallMutation{
			Status:  model.CallStatusMissed,
			EndedAt: &now,
		})
		if err != nil {
			// Answered, declined, or reaped by a concurrent sweep meanwhile.
			if errors.Is(err, repo.ErrPreconditionFailed) || errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return reaped, err
		}
		reaped++
		s.logger.Info("stale ringing call reaped",
			zap.String("call_id", updated.ID.Hex()),
			zap.Duration("ring_timeout", s.ringTimeout),
		)
		s.notify(ctx, updated.CallerID, event.EventCallMissed, updated)
		s.notify(ctx, updated.ReceiverID, event.EventCallMissed, updated)
	}
	return reaped, nil
}

// PollRinging sweeps expired calls, then returns the newest ringing call
// addressed to userID, or nil when there is none.
func (s *CallService) PollRinging(ctx context.Context, userID string) (*model.Call, error) {
	if _, err := s.ReapStaleRinging(ctx); err != nil {
		s.logger.Warn("stale call sweep failed", zap.Error(err))
	}

	call, err := s.calls.FindLatestRingingFor(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return call, nil
}

// ActiveCalls reports how many calls are in ringing or ongoing, for the
// monitor endpoint.
func (s *CallService) ActiveCalls(ctx context.Context) (int64, error) {
	return s.calls.CountActive(ctx)
}

// backfillCredentials re-mints room credentials for a call record that lost
// them. When the mint fails the call moves ringing→failed: there is no
// session the parties could join.
func (s *CallService) backfillCredentials(ctx context.Context, call *model.Call) error {
	roomName := call.RoomName
	if roomName == "" {
		roomName = "call_" + uuid.NewString()
	}

	callerToken, callerErr := s.credentials.Allocate(roomName, call.CallerID)
	receiverToken, receiverErr := s.credentials.Allocate(roomName, call.ReceiverID)
	if callerErr != nil || receiverErr != nil {
		now := time.Now().UTC()
		failed, err := s.calls.Transition(ctx, call.ID.Hex(), []string{model.CallStatusRinging}, repo.CallMutation{
			Status:  model.CallStatusFailed,
			EndedAt: &now,
		})
		if err == nil {
			s.notify(ctx, failed.CallerID, event.EventCallEnded, failed)
			s.notify(ctx, failed.ReceiverID, event.EventCallEnded, failed)
		}
		return fmt.Errorf("%w: credential mint failed", ErrTransportUnavailable)
	}

	if err := s.calls.SetCredentials(ctx, call.ID.Hex(), roomName, callerToken, receiverToken); err != nil {
		return err
	}
	call.RoomName = roomName
	call.CallerToken = callerToken
	call.ReceiverToken = receiverToken
	return nil
}

func (s *CallService) find(ctx context.Context, callID string) (*model.Call, error) {
	call, err := s.calls.FindByID(ctx, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrInvalidID) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return call, nil
}

func (s *CallService) notify(ctx context.Context, userID, eventType string, call *model.Call) {
	payload := event.CallPayload{
		Version:        event.CallPayloadVersion,
		CallID:         call.ID.Hex(),
		ConversationID: call.ConversationID.Hex(),
		CallerID:       call.CallerID,
		ReceiverID:     call.ReceiverID,
		CallType:       call.CallType,
		Status:         call.Status,
		RoomName:       call.RoomName,
		Token:          call.TokenFor(userID),
		EndedBy:        call.EndedBy,
		Duration:       call.Duration,
		Timestamp:      time.Now().Unix(),
	}
	if _, err := s.channel.Publish(ctx, userID, event.NewEnvelope(eventType, payload)); err != nil {
		s.logger.Warn("call event publish failed",
			zap.String("call_id", call.ID.Hex()),
			zap.String("event", eventType),
			zap.Error(err),
		)
	}
}
