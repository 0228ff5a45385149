package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Message is a channel message kept by the in-memory provider.
type Message struct {
	SenderID string
	Text     string
	SentAt   time.Time
}

type memoryChannel struct {
	channel  Channel
	members  map[string]struct{}
	messages []Message
}

// InMemory implements Client against process-local state. It backs tests and
// local development, mirroring the HTTP client's error classification so
// callers cannot tell the two apart.
type InMemory struct {
	mu       sync.Mutex
	users    map[string]User
	channels map[string]*memoryChannel
	calls    []string
	clock    func() time.Time

	// FailWith, when set, is consulted before every operation with the
	// method name and may inject an error. Tests use it to simulate
	// provider outages.
	FailWith func(operation string) error
}

// NewInMemory returns an empty in-memory provider.
func NewInMemory() *InMemory {
	return NewInMemoryWithClock(time.Now)
}

// NewInMemoryWithClock returns an in-memory provider stamping records with
// the supplied clock.
func NewInMemoryWithClock(clock func() time.Time) *InMemory {
	if clock == nil {
		clock = time.Now
	}
	return &InMemory{
		users:    map[string]User{},
		channels: map[string]*memoryChannel{},
		clock:    clock,
	}
}

func channelKey(channelType, channelID string) string {
	return channelType + ":" + channelID
}

func (m *InMemory) begin(operation string) error {
	m.calls = append(m.calls, operation)
	if m.FailWith != nil {
		if err := m.FailWith(operation); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns the operations performed so far, in order.
func (m *InMemory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named operation ran.
func (m *InMemory) CallCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.calls {
		if call == operation {
			count++
		}
	}
	return count
}

// Messages returns the messages sent to a channel, oldest first.
func (m *InMemory) Messages(channelType, channelID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.channels[channelKey(channelType, channelID)]
	if !ok {
		return nil
	}
	out := make([]Message, len(entry.messages))
	copy(out, entry.messages)
	return out
}

// UpsertUser creates or replaces a provider user.
func (m *InMemory) UpsertUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("UpsertUser"); err != nil {
		return err
	}
	if user.ID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidRequest)
	}
	m.users[user.ID] = user
	return nil
}

// DeleteUser removes a provider user.
func (m *InMemory) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteUser"); err != nil {
		return err
	}
	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, userID)
	}
	delete(m.users, userID)
	return nil
}

// CreateChannel registers a channel. Creating an id that already exists
// fails with ErrAlreadyExists, matching the remote service.
func (m *InMemory) CreateChannel(_ context.Context, channelType, channelID, creatorID string, metadata map[string]string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateChannel"); err != nil {
		return Channel{}, err
	}

	key := channelKey(channelType, channelID)
	if _, ok := m.channels[key]; ok {
		return Channel{}, fmt.Errorf("%w: channel %q", ErrAlreadyExists, channelID)
	}

	entry := &memoryChannel{
		channel: Channel{
			Type:      channelType,
			ID:        channelID,
			CreatedBy: creatorID,
			CreatedAt: m.clock().UTC(),
			Metadata:  cloneMetadata(metadata),
		},
		members: map[string]struct{}{},
	}
	m.channels[key] = entry
	return m.snapshot(entry), nil
}

// QueryChannel returns the provider's view of a channel.
func (m *InMemory) QueryChannel(_ context.Context, channelType, channelID string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("QueryChannel"); err != nil {
		return Channel{}, err
	}
	entry, ok := m.channels[channelKey(channelType, channelID)]
	if !ok {
		return Channel{}, fmt.Errorf("%w: channel %q", ErrNotFound, channelID)
	}
	return m.snapshot(entry), nil
}

// AddMembers unions the given user ids into the channel's member set.
func (m *InMemory) AddMembers(_ context.Context, channelType, channelID string, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("AddMembers"); err != nil {
		return err
	}
	entry, ok := m.channels[channelKey(channelType, channelID)]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channelID)
	}
	for _, memberID := range memberIDs {
		if memberID == "" {
			continue
		}
		entry.members[memberID] = struct{}{}
	}
	return nil
}

// RemoveMembers drops the given user ids from the channel's member set.
// Unknown members are ignored.
func (m *InMemory) RemoveMembers(_ context.Context, channelType, channelID string, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("RemoveMembers"); err != nil {
		return err
	}
	entry, ok := m.channels[channelKey(channelType, channelID)]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channelID)
	}
	for _, memberID := range memberIDs {
		delete(entry.members, memberID)
	}
	return nil
}

// SendMessage appends a message to the channel's log.
func (m *InMemory) SendMessage(_ context.Context, channelType, channelID, senderID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("SendMessage"); err != nil {
		return err
	}
	entry, ok := m.channels[channelKey(channelType, channelID)]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channelID)
	}
	entry.messages = append(entry.messages, Message{
		SenderID: senderID,
		Text:     text,
		SentAt:   m.clock().UTC(),
	})
	return nil
}

// UpdateChannel applies a partial update. Recognized attributes are "frozen"
// (bool) and "name" (string); anything else lands in the metadata map.
func (m *InMemory) UpdateChannel(_ context.Context, channelType, channelID string, attributes map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("UpdateChannel"); err != nil {
		return err
	}
	entry, ok := m.channels[channelKey(channelType, channelID)]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channelID)
	}
	for name, value := range attributes {
		switch name {
		case "frozen":
			frozen, ok := value.(bool)
			if !ok {
				return fmt.Errorf("%w: frozen must be a boolean", ErrInvalidRequest)
			}
			entry.channel.Frozen = frozen
		case "name":
			text, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: name must be a string", ErrInvalidRequest)
			}
			entry.channel.Metadata = ensureMetadata(entry.channel.Metadata)
			entry.channel.Metadata["name"] = text
		default:
			entry.channel.Metadata = ensureMetadata(entry.channel.Metadata)
			entry.channel.Metadata[name] = fmt.Sprintf("%v", value)
		}
	}
	return nil
}

// DeleteChannel removes a channel and its message log.
func (m *InMemory) DeleteChannel(_ context.Context, channelType, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteChannel"); err != nil {
		return err
	}
	key := channelKey(channelType, channelID)
	if _, ok := m.channels[key]; !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channelID)
	}
	delete(m.channels, key)
	return nil
}

// ListUsers pages through users ordered by id.
func (m *InMemory) ListUsers(_ context.Context, filter UserFilter) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ListUsers"); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return pageUsers(m.users, ids, filter.Limit, filter.Offset), nil
}

// ListChannels pages through channels ordered by id, optionally restricted
// to those containing the filter's member.
func (m *InMemory) ListChannels(_ context.Context, filter ChannelFilter) ([]Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ListChannels"); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.channels))
	for key, entry := range m.channels {
		if filter.MemberID != "" {
			if _, ok := entry.members[filter.MemberID]; !ok {
				continue
			}
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	limit := filter.Limit
	if limit <= 0 {
		limit = len(keys)
	}
	out := make([]Channel, 0, limit)
	for index, key := range keys {
		if index < filter.Offset {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, m.snapshot(m.channels[key]))
	}
	return out, nil
}

func (m *InMemory) snapshot(entry *memoryChannel) Channel {
	out := entry.channel
	out.MemberIDs = make([]string, 0, len(entry.members))
	for memberID := range entry.members {
		out.MemberIDs = append(out.MemberIDs, memberID)
	}
	sort.Strings(out.MemberIDs)
	out.Metadata = cloneMetadata(entry.channel.Metadata)
	return out
}

func pageUsers(users map[string]User, orderedIDs []string, limit, offset int) []User {
	if limit <= 0 {
		limit = len(orderedIDs)
	}
	out := make([]User, 0, limit)
	for index, id := range orderedIDs {
		if index < offset {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, users[id])
	}
	return out
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for name, value := range metadata {
		out[name] = value
	}
	return out
}

func ensureMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}
