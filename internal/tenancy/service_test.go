package tenancy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tenancy_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("accessing database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Gym{}, &User{}, &GymMembership{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return db
}

func mustService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return service
}

func mustSeedUser(t *testing.T, db *gorm.DB, user User, gymIDs ...int64) {
	t.Helper()
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seeding user %d: %v", user.ID, err)
	}
	for _, gymID := range gymIDs {
		membership := GymMembership{GymID: gymID, UserID: user.ID, Role: "MEMBER"}
		if err := db.Create(&membership).Error; err != nil {
			t.Fatalf("seeding membership %d->%d: %v", user.ID, gymID, err)
		}
	}
}

func mustSeedGyms(t *testing.T, db *gorm.DB, gymIDs ...int64) {
	t.Helper()
	for _, gymID := range gymIDs {
		gym := Gym{ID: gymID, Name: fmt.Sprintf("Gym %d", gymID), Subdomain: fmt.Sprintf("gym-%d", gymID)}
		if err := db.Create(&gym).Error; err != nil {
			t.Fatalf("seeding gym %d: %v", gymID, err)
		}
	}
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	t.Parallel()

	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestTenantsOfReturnsSortedGymIDs(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	mustSeedGyms(t, db, 1, 2, 3)
	mustSeedUser(t, db, User{ID: 10, Email: "a@example.com"}, 3, 1, 2)

	service := mustService(t, db)
	tenants, err := service.TenantsOf(context.Background(), 10)
	if err != nil {
		t.Fatalf("listing tenants: %v", err)
	}
	if len(tenants) != 3 || tenants[0] != 1 || tenants[1] != 2 || tenants[2] != 3 {
		t.Fatalf("expected sorted gyms [1 2 3], got %v", tenants)
	}
}

func TestTenantsOfRejectsInvalidID(t *testing.T) {
	t.Parallel()

	service := mustService(t, newTestDatabase(t))
	if _, err := service.TenantsOf(context.Background(), 0); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestSharedTenantsIntersectsMemberships(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	mustSeedGyms(t, db, 1, 2, 3)
	mustSeedUser(t, db, User{ID: 1, Email: "a@example.com"}, 1, 2, 3)
	mustSeedUser(t, db, User{ID: 2, Email: "b@example.com"}, 2, 3)
	mustSeedUser(t, db, User{ID: 3, Email: "c@example.com"})

	service := mustService(t, db)

	shared, err := service.SharedTenants(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("intersecting tenants: %v", err)
	}
	if len(shared) != 2 || shared[0] != 2 || shared[1] != 3 {
		t.Fatalf("expected [2 3], got %v", shared)
	}

	none, err := service.SharedTenants(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("intersecting tenants: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no shared tenants, got %v", none)
	}
}

func TestCommonTenantsSpansAllUsers(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	mustSeedGyms(t, db, 1, 2, 3)
	mustSeedUser(t, db, User{ID: 1, Email: "a@example.com"}, 1, 2, 3)
	mustSeedUser(t, db, User{ID: 2, Email: "b@example.com"}, 2, 3)
	mustSeedUser(t, db, User{ID: 3, Email: "c@example.com"}, 3)

	service := mustService(t, db)

	common, err := service.CommonTenants(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("intersecting tenants: %v", err)
	}
	if len(common) != 1 || common[0] != 3 {
		t.Fatalf("expected [3], got %v", common)
	}

	empty, err := service.CommonTenants(context.Background(), nil)
	if err != nil {
		t.Fatalf("intersecting empty set: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result, got %v", empty)
	}
}

func TestUsersInTenantAnswersAsSet(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	mustSeedGyms(t, db, 1, 2)
	mustSeedUser(t, db, User{ID: 1, Email: "a@example.com"}, 1, 2)
	mustSeedUser(t, db, User{ID: 2, Email: "b@example.com"}, 2)
	mustSeedUser(t, db, User{ID: 3, Email: "c@example.com"}, 1)

	service := mustService(t, db)
	members, err := service.UsersInTenant(context.Background(), 2, []int64{1, 2, 3, 99})
	if err != nil {
		t.Fatalf("checking members: %v", err)
	}
	if _, ok := members[1]; !ok {
		t.Fatal("expected user 1 in gym 2")
	}
	if _, ok := members[2]; !ok {
		t.Fatal("expected user 2 in gym 2")
	}
	if _, ok := members[3]; ok {
		t.Fatal("did not expect user 3 in gym 2")
	}
	if _, ok := members[99]; ok {
		t.Fatal("did not expect unknown user in gym 2")
	}
}

func TestUserByIDDistinguishesMissing(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	mustSeedUser(t, db, User{ID: 7, Email: "g@example.com", DisplayName: "Grace"})

	service := mustService(t, db)
	user, err := service.UserByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("loading user: %v", err)
	}
	if user.Name() != "Grace" {
		t.Fatalf("expected display name, got %q", user.Name())
	}

	if _, err := service.UserByID(context.Background(), 8); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLegacySubjectIndexSanitizesSubjects(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	mustSeedUser(t, db, User{ID: 1, AuthSubject: "auth0|5f8d33c2a1b4", Email: "a@example.com"})
	mustSeedUser(t, db, User{ID: 2, AuthSubject: "google-oauth2|103254698741", Email: "b@example.com"})
	mustSeedUser(t, db, User{ID: 3, AuthSubject: "", Email: "c@example.com"})

	service := mustService(t, db)
	index, err := service.LegacySubjectIndex(context.Background())
	if err != nil {
		t.Fatalf("building index: %v", err)
	}
	if user, ok := index["auth0_5f8d33c2a1b4"]; !ok || user.ID != 1 {
		t.Fatalf("expected user 1 under sanitized subject, got %+v", index)
	}
	if user, ok := index["google-oauth2_103254698741"]; !ok || user.ID != 2 {
		t.Fatalf("expected user 2 under sanitized subject, got %+v", index)
	}
	if len(index) != 2 {
		t.Fatalf("expected two indexed subjects, got %d", len(index))
	}
}
