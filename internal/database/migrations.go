package database

import (
	"errors"
	"sort"
	"time"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/chat"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDedupeDirectRooms = "2026-07-18_dedupe_direct_rooms"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDedupeDirectRooms, apply: dedupeDirectRooms},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dedupeDirectRooms removes all but the lowest-id live direct room for each
// member pair: the loser rooms are soft-deleted and their membership rows
// purged. Data written before room creation became transactional can hold
// several live rooms for the same pair, and the resolver expects at most one.
func dedupeDirectRooms(db *gorm.DB) error {
	type pairRow struct {
		RoomID uint
		Low    int64
		High   int64
	}

	var rows []pairRow
	err := db.Raw(`
SELECT chat_members.room_id AS room_id,
       MIN(chat_members.user_id) AS low,
       MAX(chat_members.user_id) AS high
  FROM chat_members
  JOIN chat_rooms ON chat_rooms.id = chat_members.room_id
 WHERE chat_rooms.is_direct = ? AND chat_rooms.deleted_at IS NULL
 GROUP BY chat_members.room_id
HAVING COUNT(DISTINCT chat_members.user_id) = 2`, true).Scan(&rows).Error
	if err != nil {
		return err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].RoomID < rows[j].RoomID })

	seen := make(map[[2]int64]bool, len(rows))
	var duplicateIDs []uint
	for _, row := range rows {
		pair := [2]int64{row.Low, row.High}
		if seen[pair] {
			duplicateIDs = append(duplicateIDs, row.RoomID)
			continue
		}
		seen[pair] = true
	}
	if len(duplicateIDs) == 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id IN ?", duplicateIDs).Delete(&chat.Membership{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", duplicateIDs).Delete(&chat.Room{}).Error
	})
}
