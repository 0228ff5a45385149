package chat

import (
	"time"

	"gorm.io/gorm"
)

// Room lifecycle states. Archived rooms stay on record so an event keeps its
// single conversation slot; only deletion frees it.
const (
	RoomStatusActive   = "active"
	RoomStatusArchived = "archived"
)

// Room is the local record of a provider channel. The channel id and type are
// the provider-side coordinates; everything else is local bookkeeping.
type Room struct {
	ID          uint           `gorm:"column:id;primaryKey"`
	ChannelID   string         `gorm:"column:channel_id;size:64;not null;index:idx_chat_rooms_channel_id"`
	ChannelType string         `gorm:"column:channel_type;size:32;not null"`
	Name        string         `gorm:"column:name;size:190"`
	IsDirect    bool           `gorm:"column:is_direct;not null;default:false"`
	EventID     *int64         `gorm:"column:event_id;index:idx_chat_rooms_event_id"`
	GymID       int64          `gorm:"column:gym_id;not null;index:idx_chat_rooms_gym_id"`
	CreatedBy   int64          `gorm:"column:created_by;not null"`
	Status      string         `gorm:"column:status;size:16;not null;default:active"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index:idx_chat_rooms_deleted_at"`
}

// TableName overrides the default naming so the schema matches the wire and
// migration tooling.
func (Room) TableName() string {
	return "chat_rooms"
}

// Archived reports whether the room has been closed to new activity.
func (r Room) Archived() bool {
	return r.Status == RoomStatusArchived
}

// Membership links an internal user to a room. Rows are removed explicitly or
// together with their room; they carry no soft-delete state of their own.
type Membership struct {
	ID       uint      `gorm:"column:id;primaryKey"`
	RoomID   uint      `gorm:"column:room_id;not null;uniqueIndex:idx_chat_members_room_user"`
	UserID   int64     `gorm:"column:user_id;not null;uniqueIndex:idx_chat_members_room_user;index:idx_chat_members_user_id"`
	JoinedAt time.Time `gorm:"column:joined_at"`
}

// TableName overrides the default naming for membership rows.
func (Membership) TableName() string {
	return "chat_members"
}

// RoomSummary pairs a room with its member set for listings.
type RoomSummary struct {
	Room      Room
	MemberIDs []int64
}
