package service

import "errors"

// Error taxonomy surfaced to the HTTP layer. Handlers map these with
// errors.Is; anything else is an internal error.
var (
	// ErrNotParticipant - the acting user does not belong to the conversation.
	ErrNotParticipant = errors.New("not a participant of this conversation")

	// ErrInvalidContent - empty message content or an unsupported type tag.
	ErrInvalidContent = errors.New("invalid content")

	// ErrActiveCallExists - the conversation already has a ringing or ongoing
	// call.
	ErrActiveCallExists = errors.New("an active call already exists")

	// ErrInvalidTransition - the call is no longer in a state that permits
	// the requested transition.
	ErrInvalidTransition = errors.New("call is no longer available")

	// ErrUnauthorized - the acting user may not perform this operation on
	// this resource.
	ErrUnauthorized = errors.New("not authorized for this operation")

	// ErrNotFound - no such conversation, message, or call.
	ErrNotFound = errors.New("not found")

	// ErrTransportUnavailable - a downstream dependency (credential issuer,
	// fan-out transport) failed.
	ErrTransportUnavailable = errors.New("transport unavailable")
)
