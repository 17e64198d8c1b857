package service

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// CredentialAllocator mints per-participant session credentials for a call
// room. The realtime core treats the media plane as an external collaborator;
// only the join credential passes through here.
type CredentialAllocator interface {
	Allocate(roomName, identity string) (string, error)
}

// LiveKitAllocator issues LiveKit room join tokens.
type LiveKitAllocator struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewLiveKitAllocator(apiKey, apiSecret string, ttl time.Duration) *LiveKitAllocator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LiveKitAllocator{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

var _ CredentialAllocator = (*LiveKitAllocator)(nil)

func (a *LiveKitAllocator) Allocate(roomName, identity string) (string, error) {
	at := auth.NewAccessToken(a.apiKey, a.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.AddGrant(grant).SetIdentity(identity).SetValidFor(a.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("mint room token: %w", err)
	}
	return token, nil
}
