// Package provider talks to the external messaging service. The Client
// interface is the full surface the rest of the application may touch; the
// HTTP implementation speaks the service's REST API and the in-memory
// implementation backs tests and local development.
package provider

import (
	"context"
	"time"
)

// User is a provider-side identity. Teams carries the gym slugs the user may
// see channels in.
type User struct {
	ID    string
	Name  string
	Teams []string
}

// Channel is the provider's view of a conversation.
type Channel struct {
	Type      string
	ID        string
	CreatedBy string
	CreatedAt time.Time
	MemberIDs []string
	Frozen    bool
	Metadata  map[string]string
}

// UserFilter pages through provider users.
type UserFilter struct {
	Limit  int
	Offset int
}

// ChannelFilter pages through provider channels, optionally restricted to
// channels a given member belongs to.
type ChannelFilter struct {
	MemberID string
	Limit    int
	Offset   int
}

// Client is the provider surface used by the resolver, the token service and
// the migration tool. Implementations classify their failures with the
// package's sentinel errors so retry decisions stay uniform.
type Client interface {
	UpsertUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, userID string) error
	CreateChannel(ctx context.Context, channelType, channelID, creatorID string, metadata map[string]string) (Channel, error)
	QueryChannel(ctx context.Context, channelType, channelID string) (Channel, error)
	AddMembers(ctx context.Context, channelType, channelID string, memberIDs []string) error
	RemoveMembers(ctx context.Context, channelType, channelID string, memberIDs []string) error
	SendMessage(ctx context.Context, channelType, channelID, senderID, text string) error
	UpdateChannel(ctx context.Context, channelType, channelID string, attributes map[string]any) error
	DeleteChannel(ctx context.Context, channelType, channelID string) error
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
	ListChannels(ctx context.Context, filter ChannelFilter) ([]Channel, error)
}
