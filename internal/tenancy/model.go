package tenancy

import "time"

// Gym is the tenant boundary. Chat ownership, visibility and token scoping
// all key off gym ids.
type Gym struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;size:190;not null"`
	Subdomain string    `gorm:"column:subdomain;size:63;uniqueIndex:idx_gyms_subdomain"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default naming.
func (Gym) TableName() string {
	return "gyms"
}

// User is the internal account record. AuthSubject is the identifier minted
// by the external auth service; legacy chat identities were derived from it.
type User struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	AuthSubject string    `gorm:"column:auth_subject;size:190;index:idx_users_auth_subject"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:190"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default naming.
func (User) TableName() string {
	return "users"
}

// Name returns the best display label available for provider upserts.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// GymMembership joins a user to a gym.
type GymMembership struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	GymID     int64     `gorm:"column:gym_id;not null;uniqueIndex:idx_user_gyms_gym_user"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:idx_user_gyms_gym_user;index:idx_user_gyms_user_id"`
	Role      string    `gorm:"column:role;size:32;not null;default:MEMBER"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default naming.
func (GymMembership) TableName() string {
	return "user_gyms"
}
