package qr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cacheKeyPrefix  = "qr:slug:"
	defaultCacheTTL = 600 * time.Second
)

// Projection is the denormalized read model served to scanners. It is
// never authoritative; the durable rows are.
type Projection struct {
	ID               string  `json:"id"`
	Slug             string  `json:"slug"`
	Status           Status  `json:"status"`
	EditableByPublic bool    `json:"editableByPublic"`
	Title            *string `json:"title"`
	Body             *string `json:"body"`
}

// CachedStoreConfig describes the dependencies of the read-through store.
type CachedStoreConfig struct {
	Database *gorm.DB
	Cache    cache.Store
	TTL      time.Duration
	Logger   *zap.Logger
}

// CachedStore is a read-through, write-invalidate cache in front of the
// durable rows for a slug. Reads prefer the cache; every durable mutation
// must call Invalidate before returning so that subsequent reads observe
// the write.
type CachedStore struct {
	db     *gorm.DB
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore constructs a CachedStore.
func NewCachedStore(cfg CachedStoreConfig) (*CachedStore, error) {
	if cfg.Database == nil {
		return nil, errors.New("qr: database handle is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("qr: cache store is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{db: cfg.Database, cache: cfg.Cache, ttl: ttl, logger: logger}, nil
}

// Read returns the projection for slug, populating the cache on a miss.
// An absent durable row yields ErrNotFound and is deliberately not
// cached, so a slug provisioned right after a failed lookup is visible
// immediately.
func (s *CachedStore) Read(ctx context.Context, slug Slug) (Projection, error) {
	key := cacheKey(slug)

	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("projection cache read failed", zap.String("slug", slug.String()), zap.Error(err))
	} else if found {
		var projection Projection
		if err := json.Unmarshal([]byte(raw), &projection); err == nil {
			return projection, nil
		}
		// Undecodable entries fall through to the durable store and are
		// overwritten by the repopulation below.
		s.logger.Warn("projection cache entry corrupt", zap.String("slug", slug.String()))
	}

	projection, err := s.readDurable(ctx, slug)
	if err != nil {
		return Projection{}, err
	}

	if encoded, err := json.Marshal(projection); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), s.ttl); err != nil {
			s.logger.Warn("projection cache write failed", zap.String("slug", slug.String()), zap.Error(err))
		}
	}
	return projection, nil
}

// Invalidate deletes the cache entry for slug and eagerly repopulates it
// from the durable store, so the cache is warm immediately after a
// mutation. A slug with no durable row simply ends up uncached.
func (s *CachedStore) Invalidate(ctx context.Context, slug Slug) error {
	if err := s.cache.Delete(ctx, cacheKey(slug)); err != nil {
		s.logger.Warn("projection cache delete failed", zap.String("slug", slug.String()), zap.Error(err))
	}
	if _, err := s.Read(ctx, slug); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (s *CachedStore) readDurable(ctx context.Context, slug Slug) (Projection, error) {
	var code Code
	err := s.db.WithContext(ctx).Where("slug = ?", slug.String()).Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Projection{}, ErrNotFound
	}
	if err != nil {
		return Projection{}, fmt.Errorf("qr: reading code: %w", err)
	}

	projection := Projection{
		ID:     code.ID,
		Slug:   code.Slug,
		Status: code.Status,
	}

	var claim Claim
	err = s.db.WithContext(ctx).Where("qr_id = ?", code.ID).Take(&claim).Error
	if err == nil {
		projection.EditableByPublic = claim.EditableByPublic
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Projection{}, fmt.Errorf("qr: reading claim: %w", err)
	}

	var note Note
	err = s.db.WithContext(ctx).Where("qr_id = ?", code.ID).Take(&note).Error
	if err == nil {
		projection.Title = note.Title
		projection.Body = note.Body
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Projection{}, fmt.Errorf("qr: reading note: %w", err)
	}

	return projection, nil
}

func cacheKey(slug Slug) string {
	return cacheKeyPrefix + slug.String()
}
