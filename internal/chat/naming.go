package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Channel types mirrored between the provider and the local record.
const (
	// ChannelTypeMessaging backs direct one-to-one conversations.
	ChannelTypeMessaging = "messaging"
	// ChannelTypeTeam backs ad-hoc group and event conversations.
	ChannelTypeTeam = "team"
)

// maxChannelIDLength is the provider's bound on channel identifiers.
const maxChannelIDLength = 64

// clampHashLength is how much of the SHA-256 digest survives in derived ids.
const clampHashLength = 8

var channelNameSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// DirectChannelID derives the canonical channel id for a direct conversation
// between two internal user ids. The pair is sorted first, so the result does
// not depend on which user initiates.
func DirectChannelID(userA, userB int64) string {
	low, high := userA, userB
	if low > high {
		low, high = high, low
	}
	return clampChannelID(fmt.Sprintf("direct_u%d_u%d", low, high))
}

// EventChannelID derives the channel id for an event-scoped conversation from
// the event id and a short hash of the creator's external identifier, so
// repeated resolutions for the same event land on the same channel.
func EventChannelID(eventID int64, creatorExternalID string) string {
	return clampChannelID(fmt.Sprintf("event_%d_%s", eventID, shortHash(creatorExternalID)))
}

// GroupChannelID derives the channel id for an ad-hoc group conversation from
// a sanitized display name and the creator's internal id.
func GroupChannelID(name string, creatorID int64) string {
	sanitized := sanitizeChannelName(name)
	if sanitized == "" {
		return clampChannelID(fmt.Sprintf("group_u%d", creatorID))
	}
	return clampChannelID(fmt.Sprintf("group_%s_u%d", sanitized, creatorID))
}

// sanitizeChannelName lowercases the display name and collapses runs of
// disallowed runes into a single dash.
func sanitizeChannelName(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	sanitized := channelNameSanitizer.ReplaceAllString(lowered, "-")
	return strings.Trim(sanitized, "-_")
}

// clampChannelID bounds an id to the provider's limit. Oversized ids keep a
// deterministic prefix and gain a short hash of the full value, so distinct
// long inputs stay distinct after clamping.
func clampChannelID(id string) string {
	if len(id) <= maxChannelIDLength {
		return id
	}
	prefix := id[:maxChannelIDLength-clampHashLength-1]
	return prefix + "_" + shortHash(id)
}

func shortHash(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])[:clampHashLength]
}
