package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// StoreConfig describes the dependencies for the room store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists rooms and memberships. All lookups exclude soft-deleted
// rooms; direct rooms are found by their member pair rather than by channel
// id so conversations created before the current naming scheme still
// resolve.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore validates the configuration and returns a ready store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("chat: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// RoomByID returns the room or ErrRoomNotFound.
func (s *Store) RoomByID(ctx context.Context, roomID uint) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).First(&room, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("chat: loading room %d: %w", roomID, err)
	}
	return room, nil
}

// FindRoomByChannelID returns the active room carrying the given channel id.
func (s *Store) FindRoomByChannelID(ctx context.Context, channelID string) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("id ASC").
		First(&room).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("chat: loading room %q: %w", channelID, err)
	}
	return room, nil
}

// FindDirectRoomByMembers returns the direct room whose member set is
// exactly the given pair. The lookup keys on memberships, not on the derived
// channel id, so legacy rooms with historical ids are still found.
func (s *Store) FindDirectRoomByMembers(ctx context.Context, userA, userB int64) (Room, error) {
	if userA == userB {
		return Room{}, ErrRoomNotFound
	}

	pairRooms := s.db.Model(&Membership{}).
		Select("room_id").
		Where("user_id IN ?", []int64{userA, userB}).
		Group("room_id").
		Having("COUNT(DISTINCT user_id) = 2")

	var rooms []Room
	err := s.db.WithContext(ctx).
		Where("is_direct = ?", true).
		Where("id IN (?)", pairRooms).
		Where("(SELECT COUNT(*) FROM chat_members WHERE chat_members.room_id = chat_rooms.id) = 2").
		Order("id ASC").
		Limit(1).
		Find(&rooms).
		Error
	if err != nil {
		return Room{}, fmt.Errorf("chat: finding direct room for users %d and %d: %w", userA, userB, err)
	}
	if len(rooms) == 0 {
		return Room{}, ErrRoomNotFound
	}
	return rooms[0], nil
}

// FindRoomByEvent returns the room bound to the given event, whether active
// or archived. Only deletion frees an event's conversation slot.
func (s *Store) FindRoomByEvent(ctx context.Context, eventID int64) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("id ASC").
		First(&room).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("chat: finding room for event %d: %w", eventID, err)
	}
	return room, nil
}

// CreateRoomWithMembers persists a room and its initial member set in one
// transaction. When another writer has already stored the same channel id,
// the existing record wins and is returned unchanged.
func (s *Store) CreateRoomWithMembers(ctx context.Context, room Room, memberIDs []int64) (Room, error) {
	now := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Room
		err := tx.Where("channel_id = ?", room.ChannelID).Order("id ASC").First(&existing).Error
		if err == nil {
			room = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// An event holds at most one room even when two writers derive
		// different channel ids for it.
		if room.EventID != nil {
			err := tx.Where("event_id = ?", *room.EventID).Order("id ASC").First(&existing).Error
			if err == nil {
				room = existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if room.Status == "" {
			room.Status = RoomStatusActive
		}
		room.CreatedAt = now
		room.UpdatedAt = now
		if err := tx.Create(&room).Error; err != nil {
			return err
		}

		members := lo.Uniq(memberIDs)
		memberships := make([]Membership, 0, len(members))
		for _, userID := range members {
			memberships = append(memberships, Membership{RoomID: room.ID, UserID: userID, JoinedAt: now})
		}
		if len(memberships) > 0 {
			if err := tx.Create(&memberships).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return Room{}, fmt.Errorf("chat: persisting room %q: %w", room.ChannelID, txErr)
	}
	return room, nil
}

// AddMember records a membership. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, roomID uint, userID int64) error {
	now := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&Membership{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Count(&count).
			Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.Create(&Membership{RoomID: roomID, UserID: userID, JoinedAt: now}).Error
	})
	if txErr != nil {
		return fmt.Errorf("chat: adding user %d to room %d: %w", userID, roomID, txErr)
	}
	return nil
}

// RemoveMember drops a membership. Removing an absent member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, roomID uint, userID int64) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&Membership{}).
		Error
	if err != nil {
		return fmt.Errorf("chat: removing user %d from room %d: %w", userID, roomID, err)
	}
	return nil
}

// MemberIDs returns the room's member ids, ascending.
func (s *Store) MemberIDs(ctx context.Context, roomID uint) ([]int64, error) {
	var userIDs []int64
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("room_id = ?", roomID).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).
		Error
	if err != nil {
		return nil, fmt.Errorf("chat: listing members of room %d: %w", roomID, err)
	}
	return userIDs, nil
}

// MembershipsByRooms returns the member ids of every listed room in a single
// query, keyed by room id. Rooms without members map to no entry.
func (s *Store) MembershipsByRooms(ctx context.Context, roomIDs []uint) (map[uint][]int64, error) {
	out := make(map[uint][]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}

	var rows []Membership
	err := s.db.WithContext(ctx).
		Where("room_id IN ?", roomIDs).
		Order("user_id ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("chat: listing members of %d rooms: %w", len(roomIDs), err)
	}
	for _, row := range rows {
		out[row.RoomID] = append(out[row.RoomID], row.UserID)
	}
	return out, nil
}

// RoomsForUser returns every room the user belongs to, oldest first.
// Archived rooms are included; soft-deleted ones are not.
func (s *Store) RoomsForUser(ctx context.Context, userID int64) ([]Room, error) {
	var rooms []Room
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_members ON chat_members.room_id = chat_rooms.id").
		Where("chat_members.user_id = ?", userID).
		Order("chat_rooms.id ASC").
		Find(&rooms).
		Error
	if err != nil {
		return nil, fmt.Errorf("chat: listing rooms of user %d: %w", userID, err)
	}
	return rooms, nil
}

// SetStatus updates the room's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, roomID uint, status string) error {
	result := s.db.WithContext(ctx).
		Model(&Room{}).
		Where("id = ?", roomID).
		Updates(map[string]any{"status": status, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		return fmt.Errorf("chat: updating status of room %d: %w", roomID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// DeleteRoom soft-deletes the room and drops its memberships, freeing any
// event slot the room held.
func (s *Store) DeleteRoom(ctx context.Context, roomID uint) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&Membership{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&Room{}, roomID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("chat: deleting room %d: %w", roomID, txErr)
	}
	return nil
}
