package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/identity"
)

var (
	// ErrUserNotFound is returned when a lookup names an unknown user.
	ErrUserNotFound = errors.New("tenancy: user not found")
	// ErrInvalidUserID is returned for non-positive user ids.
	ErrInvalidUserID = errors.New("tenancy: invalid user id")
	// ErrInvalidGymID is returned for non-positive gym ids.
	ErrInvalidGymID = errors.New("tenancy: invalid gym id")
)

// legacyIndexBatchSize bounds how many users are scanned per query when
// building the legacy subject index.
const legacyIndexBatchSize = 200

// ServiceConfig describes the dependencies for tenant resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service answers the tenant questions the chat layer asks: which gyms a
// user belongs to, which gyms two users share, and which of a set of users
// belong to a given gym.
type Service struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewService validates the configuration and returns a ready service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("tenancy: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, clock: clock}, nil
}

// TenantsOf returns the gym ids the user belongs to, ascending.
func (s *Service) TenantsOf(ctx context.Context, userID int64) ([]int64, error) {
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}
	var gymIDs []int64
	err := s.db.WithContext(ctx).
		Model(&GymMembership{}).
		Where("user_id = ?", userID).
		Order("gym_id ASC").
		Pluck("gym_id", &gymIDs).
		Error
	if err != nil {
		return nil, fmt.Errorf("tenancy: listing gyms of user %d: %w", userID, err)
	}
	return gymIDs, nil
}

// SharedTenants returns the gym ids both users belong to, ascending.
func (s *Service) SharedTenants(ctx context.Context, userA, userB int64) ([]int64, error) {
	tenantsA, err := s.TenantsOf(ctx, userA)
	if err != nil {
		return nil, err
	}
	tenantsB, err := s.TenantsOf(ctx, userB)
	if err != nil {
		return nil, err
	}
	shared := lo.Intersect(tenantsA, tenantsB)
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })
	return shared, nil
}

// CommonTenants intersects the gym sets of every listed user, ascending.
// An empty user list yields an empty result.
func (s *Service) CommonTenants(ctx context.Context, userIDs []int64) ([]int64, error) {
	distinct := lo.Uniq(userIDs)
	if len(distinct) == 0 {
		return nil, nil
	}

	common, err := s.TenantsOf(ctx, distinct[0])
	if err != nil {
		return nil, err
	}
	for _, userID := range distinct[1:] {
		if len(common) == 0 {
			return nil, nil
		}
		tenants, err := s.TenantsOf(ctx, userID)
		if err != nil {
			return nil, err
		}
		common = lo.Intersect(common, tenants)
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	return common, nil
}

// MemberOfTenant reports whether the user belongs to the gym.
func (s *Service) MemberOfTenant(ctx context.Context, userID, gymID int64) (bool, error) {
	if userID <= 0 {
		return false, ErrInvalidUserID
	}
	if gymID <= 0 {
		return false, ErrInvalidGymID
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&GymMembership{}).
		Where("user_id = ? AND gym_id = ?", userID, gymID).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("tenancy: checking membership of user %d in gym %d: %w", userID, gymID, err)
	}
	return count > 0, nil
}

// UsersInTenant reports which of the given users belong to the gym, as a
// set. The whole answer comes from a single query so callers can keep their
// query count flat regardless of how many users they ask about.
func (s *Service) UsersInTenant(ctx context.Context, gymID int64, userIDs []int64) (map[int64]struct{}, error) {
	if gymID <= 0 {
		return nil, ErrInvalidGymID
	}
	members := make(map[int64]struct{}, len(userIDs))
	distinct := lo.Uniq(userIDs)
	if len(distinct) == 0 {
		return members, nil
	}

	var found []int64
	err := s.db.WithContext(ctx).
		Model(&GymMembership{}).
		Where("gym_id = ? AND user_id IN ?", gymID, distinct).
		Pluck("user_id", &found).
		Error
	if err != nil {
		return nil, fmt.Errorf("tenancy: checking members of gym %d: %w", gymID, err)
	}
	for _, userID := range found {
		members[userID] = struct{}{}
	}
	return members, nil
}

// UserByID returns the user record or ErrUserNotFound.
func (s *Service) UserByID(ctx context.Context, userID int64) (User, error) {
	if userID <= 0 {
		return User{}, ErrInvalidUserID
	}
	var user User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("tenancy: loading user %d: %w", userID, err)
	}
	return user, nil
}

// UsersByIDs returns the users for the given ids, keyed by id. Unknown ids
// are simply absent from the result.
func (s *Service) UsersByIDs(ctx context.Context, userIDs []int64) (map[int64]User, error) {
	out := make(map[int64]User, len(userIDs))
	distinct := lo.Uniq(userIDs)
	if len(distinct) == 0 {
		return out, nil
	}

	var users []User
	err := s.db.WithContext(ctx).Where("id IN ?", distinct).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("tenancy: loading users: %w", err)
	}
	for _, user := range users {
		out[user.ID] = user
	}
	return out, nil
}

// LegacySubjectIndex maps sanitized auth subjects to their users. Legacy
// chat identities were minted from auth subjects, so this is the lookup
// table the migration tool resolves them against. Subjects that sanitize to
// nothing are skipped.
func (s *Service) LegacySubjectIndex(ctx context.Context) (map[string]User, error) {
	index := map[string]User{}
	var batch []User
	err := s.db.WithContext(ctx).
		Where("auth_subject <> ''").
		FindInBatches(&batch, legacyIndexBatchSize, func(_ *gorm.DB, _ int) error {
			for _, user := range batch {
				legacyID, err := identity.LegacyExternal(user.AuthSubject)
				if err != nil {
					continue
				}
				index[legacyID] = user
			}
			return nil
		}).
		Error
	if err != nil {
		return nil, fmt.Errorf("tenancy: indexing auth subjects: %w", err)
	}
	return index, nil
}
