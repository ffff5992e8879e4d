package qr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("qr: database handle is required")
	errMissingStore      = errors.New("qr: cached store is required")
	errMissingIDProvider = errors.New("qr: id provider is required")
	errMissingEmail      = errors.New("qr: email is required")
)

// ServiceConfig describes the dependencies of the claim service.
type ServiceConfig struct {
	Database   *gorm.DB
	Store      *CachedStore
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the claim lifecycle of a code and every durable mutation
// to its rows. Mutations invalidate the slug's cache entry before they
// return, giving the caller read-your-write consistency through the
// cache. Concurrent safety relies on idempotent upserts, not locks.
type Service struct {
	db         *gorm.DB
	store      *CachedStore
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the claim service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// BeginClaim moves an unclaimed code to pending. Re-requesting a claim
// on an already-active code is a safe no-op: a replayed claim request
// must never demote status. The return signals only "request accepted",
// not ownership.
func (s *Service) BeginClaim(ctx context.Context, slug Slug) error {
	var code Code
	err := s.db.WithContext(ctx).Where("slug = ?", slug.String()).Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("qr: reading code: %w", err)
	}

	if code.Status == StatusActive {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&Code{}).
		Where("id = ?", code.ID).
		Update("status", StatusPending).Error; err != nil {
		return fmt.Errorf("qr: marking claim pending: %w", err)
	}

	return s.store.Invalidate(ctx, slug)
}

// FinalizeClaim verifies a claim for email on slug and returns the owner
// user id. The user is created lazily on first sight of the email, the
// note is created exactly once per code, and the claim row is upserted
// so that re-finalization transfers ownership (last verified claimant
// wins) while preserving pin_hash and editable_by_public. Status becomes
// active unconditionally. Replayed and concurrent calls converge to a
// single note row and a single claim row.
func (s *Service) FinalizeClaim(ctx context.Context, email string, slug Slug) (string, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedEmail == "" {
		return "", errMissingEmail
	}

	now := s.clock().UTC().Unix()
	var userID string

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var code Code
		err := tx.Where("slug = ?", slug.String()).Take(&code).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("qr: reading code: %w", err)
		}

		user, err := s.ensureUser(tx, normalizedEmail, now)
		if err != nil {
			return err
		}
		userID = user.ID

		if err := s.ensureNote(tx, code.ID, now); err != nil {
			return err
		}

		claimID, err := s.idProvider.NewID()
		if err != nil {
			return fmt.Errorf("qr: generating claim id: %w", err)
		}
		claim := Claim{
			ID:               claimID,
			QRID:             code.ID,
			UserID:           user.ID,
			ClaimedAtSeconds: now,
			EditableByPublic: false,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "qr_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id":      user.ID,
				"claimed_at_s": now,
			}),
		}).Create(&claim).Error; err != nil {
			return fmt.Errorf("qr: upserting claim: %w", err)
		}

		if err := tx.Model(&Code{}).
			Where("id = ?", code.ID).
			Update("status", StatusActive).Error; err != nil {
			return fmt.Errorf("qr: activating code: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}

	if err := s.store.Invalidate(ctx, slug); err != nil {
		return "", err
	}

	s.logger.Info("claim finalized",
		zap.String("slug", slug.String()),
		zap.String("user_id", userID))
	return userID, nil
}

// RecordScan updates the code's last-scan time and appends an audit
// event. Both writes are best-effort: audit loss is non-fatal, so
// failures are logged and swallowed rather than failing the resolve.
func (s *Service) RecordScan(ctx context.Context, qrID, ip string) {
	now := s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Model(&Code{}).
		Where("id = ?", qrID).
		Update("last_scan_at_s", now).Error; err != nil {
		s.logger.Warn("scan timestamp update failed", zap.String("qr_id", qrID), zap.Error(err))
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Warn("audit id generation failed", zap.String("qr_id", qrID), zap.Error(err))
		return
	}
	event := AuditEvent{
		ID:               eventID,
		QRID:             qrID,
		IP:               ip,
		Kind:             EventKindScan,
		TimestampSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logger.Warn("audit event insert failed", zap.String("qr_id", qrID), zap.Error(err))
	}
}

// UpdateNote applies a partial update to the note behind slug. Nil title
// or body leaves the stored field untouched. The version counter is
// informational and bumps on every accepted update.
func (s *Service) UpdateNote(ctx context.Context, slug Slug, title, body *string) error {
	var code Code
	err := s.db.WithContext(ctx).Where("slug = ?", slug.String()).Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("qr: reading code: %w", err)
	}

	updates := map[string]interface{}{
		"updated_at_s": s.clock().UTC().Unix(),
		"version":      gorm.Expr("version + 1"),
	}
	if title != nil {
		updates["title"] = *title
	}
	if body != nil {
		updates["body"] = *body
	}

	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("qr_id = ?", code.ID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("qr: updating note: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// No note row yet means the code was never finalized.
		return ErrNotFound
	}

	return s.store.Invalidate(ctx, slug)
}

// SetPIN stores a new shared edit PIN on the claim for slug, or clears
// it when pin is nil. The PIN is a single slug-scoped secret, not a
// per-user one.
func (s *Service) SetPIN(ctx context.Context, slug Slug, pin *string) error {
	var pinHash *string
	if pin != nil {
		hashed, err := HashPIN(*pin)
		if err != nil {
			return err
		}
		pinHash = &hashed
	}
	return s.updateClaim(ctx, slug, map[string]interface{}{"pin_hash": pinHash})
}

// SetPublicEdit toggles the editable-by-public flag on the claim for slug.
func (s *Service) SetPublicEdit(ctx context.Context, slug Slug, editable bool) error {
	return s.updateClaim(ctx, slug, map[string]interface{}{"editable_by_public": editable})
}

func (s *Service) updateClaim(ctx context.Context, slug Slug, updates map[string]interface{}) error {
	var code Code
	err := s.db.WithContext(ctx).Where("slug = ?", slug.String()).Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("qr: reading code: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&Claim{}).
		Where("qr_id = ?", code.ID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("qr: updating claim: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return s.store.Invalidate(ctx, slug)
}

// ensureUser resolves the user row for email, creating it on first
// sight. The unique index on email plus the conflict-tolerant insert
// keeps concurrent finalizations for the same address on one row.
func (s *Service) ensureUser(tx *gorm.DB, email string, now int64) (User, error) {
	var user User
	err := tx.Where("email = ?", email).Take(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("qr: reading user: %w", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fmt.Errorf("qr: generating user id: %w", err)
	}
	user = User{ID: userID, Email: email, CreatedAtSeconds: now}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&user).Error; err != nil {
		return User{}, fmt.Errorf("qr: creating user: %w", err)
	}

	// Re-read in case a concurrent finalization inserted the row first.
	if err := tx.Where("email = ?", email).Take(&user).Error; err != nil {
		return User{}, fmt.Errorf("qr: re-reading user: %w", err)
	}
	return user, nil
}

// ensureNote creates the note row for a code exactly once. The existence
// check plus the conflict-tolerant insert keeps replayed and concurrent
// finalizations from duplicating the row.
func (s *Service) ensureNote(tx *gorm.DB, qrID string, now int64) error {
	var count int64
	if err := tx.Model(&Note{}).Where("qr_id = ?", qrID).Count(&count).Error; err != nil {
		return fmt.Errorf("qr: checking note existence: %w", err)
	}
	if count > 0 {
		return nil
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("qr: generating note id: %w", err)
	}
	note := Note{
		ID:               noteID,
		QRID:             qrID,
		UpdatedAtSeconds: now,
		Version:          1,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "qr_id"}},
		DoNothing: true,
	}).Create(&note).Error; err != nil {
		return fmt.Errorf("qr: creating note: %w", err)
	}
	return nil
}
