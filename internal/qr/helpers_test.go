package qr

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/cache"
)

// testClockEpoch keeps timestamps deterministic across assertions.
const testClockEpoch = int64(1700000000)

func testClock() time.Time {
	return time.Unix(testClockEpoch, 0)
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databaseName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", databaseName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrapping database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&Code{}, &Note{}, &Claim{}, &User{}, &AuditEvent{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return db
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Store) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	store, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("connecting to miniredis: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return server, store
}

func newTestStore(t *testing.T, db *gorm.DB) (*miniredis.Miniredis, *CachedStore) {
	t.Helper()
	server, cacheStore := newTestCache(t)
	store, err := NewCachedStore(CachedStoreConfig{Database: db, Cache: cacheStore})
	if err != nil {
		t.Fatalf("constructing cached store: %v", err)
	}
	return server, store
}

func newTestService(t *testing.T, db *gorm.DB, store *CachedStore) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Store:      store,
		Clock:      testClock,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	return service
}

func seedCode(t *testing.T, db *gorm.DB, slug string, status Status) Code {
	t.Helper()
	provider := NewUUIDProvider()
	id, err := provider.NewID()
	if err != nil {
		t.Fatalf("generating code id: %v", err)
	}
	code := Code{
		ID:               id,
		Slug:             slug,
		Status:           status,
		CreatedAtSeconds: testClockEpoch,
	}
	if err := db.Create(&code).Error; err != nil {
		t.Fatalf("seeding code: %v", err)
	}
	return code
}

func mustSlug(t *testing.T, raw string) Slug {
	t.Helper()
	slug, err := NewSlug(raw)
	if err != nil {
		t.Fatalf("building slug %q: %v", raw, err)
	}
	return slug
}

func stringPtr(value string) *string {
	return &value
}
