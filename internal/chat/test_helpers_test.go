package chat

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/cache"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/retry"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
)

var testInstant = time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC)

func testClock() time.Time {
	return testInstant
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:chat_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("accessing database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Room{}, &Membership{}, &tenancy.Gym{}, &tenancy.User{}, &tenancy.GymMembership{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return db
}

type testEnv struct {
	db       *gorm.DB
	store    *Store
	tenants  *tenancy.Service
	backend  *provider.InMemory
	cache    *cache.Memory
	resolver *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDatabase(t)
	store, err := NewStore(StoreConfig{Database: db, Clock: testClock})
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	tenants, err := tenancy.NewService(tenancy.ServiceConfig{Database: db, Clock: testClock})
	if err != nil {
		t.Fatalf("building tenancy service: %v", err)
	}
	backend := provider.NewInMemoryWithClock(testClock)
	cacheBackend := cache.NewMemory(cache.MemoryConfig{Clock: testClock})

	resolver, err := NewResolver(ResolverConfig{
		Store:    store,
		Tenancy:  tenants,
		Provider: backend,
		Cache:    cacheBackend,
		Retry:    retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Clock:    testClock,
	})
	if err != nil {
		t.Fatalf("building resolver: %v", err)
	}

	return &testEnv{
		db:       db,
		store:    store,
		tenants:  tenants,
		backend:  backend,
		cache:    cacheBackend,
		resolver: resolver,
	}
}

func (e *testEnv) seedGyms(t *testing.T, gymIDs ...int64) {
	t.Helper()
	for _, gymID := range gymIDs {
		gym := tenancy.Gym{ID: gymID, Name: fmt.Sprintf("Gym %d", gymID), Subdomain: fmt.Sprintf("gym-%d", gymID)}
		if err := e.db.Create(&gym).Error; err != nil {
			t.Fatalf("seeding gym %d: %v", gymID, err)
		}
	}
}

func (e *testEnv) seedUser(t *testing.T, userID int64, gymIDs ...int64) {
	t.Helper()
	user := tenancy.User{
		ID:          userID,
		AuthSubject: fmt.Sprintf("auth0|u%d", userID),
		Email:       fmt.Sprintf("user%d@example.com", userID),
		DisplayName: fmt.Sprintf("User %d", userID),
	}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("seeding user %d: %v", userID, err)
	}
	for _, gymID := range gymIDs {
		membership := tenancy.GymMembership{GymID: gymID, UserID: userID, Role: "MEMBER"}
		if err := e.db.Create(&membership).Error; err != nil {
			t.Fatalf("seeding membership %d->%d: %v", userID, gymID, err)
		}
	}
}

func mustCountRooms(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Room{}).Count(&count).Error; err != nil {
		t.Fatalf("counting rooms: %v", err)
	}
	return count
}
