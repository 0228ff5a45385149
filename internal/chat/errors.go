package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSharedTenant is returned when the participants of a requested
	// conversation have no gym in common.
	ErrNoSharedTenant = errors.New("chat: participants share no gym")
	// ErrInvalidParticipants is returned when a conversation request names
	// unusable participants.
	ErrInvalidParticipants = errors.New("chat: invalid participants")
	// ErrInvalidEventID is returned for non-positive event ids.
	ErrInvalidEventID = errors.New("chat: invalid event id")
	// ErrRoomNotFound is returned when no active room matches the lookup.
	ErrRoomNotFound = errors.New("chat: room not found")
	// ErrDirectRoomImmutable is returned when a caller tries to change the
	// member set of a direct conversation.
	ErrDirectRoomImmutable = errors.New("chat: direct rooms have a fixed member pair")
	// ErrRoomArchived is returned when a caller tries to mutate a room that
	// has already been closed.
	ErrRoomArchived = errors.New("chat: room is archived")
	// ErrNotAMember is returned when a membership mutation names a user that
	// does not belong to the room's owning gym.
	ErrNotAMember = errors.New("chat: user does not belong to the owning gym")
	// ErrTokenIssuance is returned when a provider token can be neither
	// issued nor served from the degraded cache.
	ErrTokenIssuance = errors.New("chat: token issuance failed")
	// ErrInconsistentRecord tags local records that no longer match the
	// provider's view of the channel.
	ErrInconsistentRecord = errors.New("chat: local record inconsistent with provider")
)

// ChannelCreationError reports a provider channel creation that failed after
// the configured retry budget. Attempts counts every call made, and Err keeps
// the last provider error unmasked.
type ChannelCreationError struct {
	ChannelID string
	Attempts  int
	Err       error
}

func (e *ChannelCreationError) Error() string {
	return fmt.Sprintf("chat: creating channel %q failed after %d attempts: %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *ChannelCreationError) Unwrap() error {
	return e.Err
}

// ChannelQueryError reports a provider channel lookup that failed after the
// configured retry budget.
type ChannelQueryError struct {
	ChannelID string
	Attempts  int
	Err       error
}

func (e *ChannelQueryError) Error() string {
	return fmt.Sprintf("chat: querying channel %q failed after %d attempts: %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *ChannelQueryError) Unwrap() error {
	return e.Err
}
