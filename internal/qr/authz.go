package qr

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthorizerConfig describes the dependencies of the authorization resolver.
type AuthorizerConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Authorizer decides whether a request may mutate a slug's note. Three
// independent arms are OR-combined, evaluated in order and short-circuited
// on the first success: session ownership, shared PIN, public-edit flag.
// A slug with no claim row is never authorized by PIN or public flag.
type Authorizer struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{db: cfg.Database, logger: logger}, nil
}

// Authorize returns nil when the caller may edit slug. userID is the
// verified session subject, or empty when the request carried no valid
// session; pin is the raw PIN supplied with the request, or empty.
func (a *Authorizer) Authorize(ctx context.Context, slug Slug, userID, pin string) error {
	if userID != "" {
		owner, err := a.Owner(ctx, slug, userID)
		if err != nil {
			return err
		}
		if owner {
			return nil
		}
	}

	claim, found, err := a.claimForSlug(ctx, slug)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnauthorized
	}

	// The PIN is slug-scoped: any PIN verifying against the stored hash
	// grants edit access regardless of which account owns the claim.
	if pin != "" && claim.PinHash != nil && VerifyPIN(*claim.PinHash, pin) {
		return nil
	}

	if claim.EditableByPublic {
		return nil
	}

	return ErrUnauthorized
}

// Owner reports whether userID owns the claim on slug.
func (a *Authorizer) Owner(ctx context.Context, slug Slug, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var count int64
	err := a.db.WithContext(ctx).Model(&Claim{}).
		Joins("JOIN qr_codes ON qr_codes.id = qr_claims.qr_id").
		Where("qr_codes.slug = ? AND qr_claims.user_id = ?", slug.String(), userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("qr: checking ownership: %w", err)
	}
	return count > 0, nil
}

func (a *Authorizer) claimForSlug(ctx context.Context, slug Slug) (Claim, bool, error) {
	var claim Claim
	err := a.db.WithContext(ctx).
		Joins("JOIN qr_codes ON qr_codes.id = qr_claims.qr_id").
		Where("qr_codes.slug = ?", slug.String()).
		Take(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, fmt.Errorf("qr: reading claim: %w", err)
	}
	return claim, true, nil
}
