package chat

import (
	"fmt"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
)

// ValidateRoom compares a local room against the provider's snapshot of its
// channel. A nil result means the record is trustworthy; any other result
// wraps ErrInconsistentRecord and names the first mismatch.
//
// Only the channel id, the channel type and the presence of a creation
// timestamp are checked. Member identities are not compared: channels from
// before the current identity scheme carry members under their old external
// ids.
func ValidateRoom(room Room, channel provider.Channel) error {
	if channel.ID != room.ChannelID {
		return fmt.Errorf("%w: channel id %q does not match local %q", ErrInconsistentRecord, channel.ID, room.ChannelID)
	}
	if channel.Type != room.ChannelType {
		return fmt.Errorf("%w: channel type %q does not match local %q", ErrInconsistentRecord, channel.Type, room.ChannelType)
	}
	if channel.CreatedAt.IsZero() {
		return fmt.Errorf("%w: provider has no creation record for channel %q", ErrInconsistentRecord, room.ChannelID)
	}
	return nil
}
