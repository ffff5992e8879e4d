package qr

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the claim lifecycle states of a code.
type Status string

const (
	// StatusUnclaimed marks a provisioned code nobody has asked to claim.
	StatusUnclaimed Status = "unclaimed"
	// StatusPending marks a code with an outstanding claim request.
	StatusPending Status = "pending"
	// StatusActive marks a claimed code. Active is terminal.
	StatusActive Status = "active"
)

const maxSlugLength = 190

var (
	// ErrInvalidSlug indicates that a slug is empty or exceeds storage bounds.
	ErrInvalidSlug = errors.New("qr: invalid slug")
	// ErrNotFound indicates that no code exists for the requested slug.
	ErrNotFound = errors.New("qr: code not found")
	// ErrUnauthorized indicates that no authorization arm admitted the caller.
	ErrUnauthorized = errors.New("qr: not authorized")
)

// Slug represents a validated public code identifier.
type Slug string

// NewSlug validates raw input and returns a Slug.
func NewSlug(rawInput string) (Slug, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(trimmed) > maxSlugLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	return Slug(trimmed), nil
}

// String returns the underlying string identifier.
func (s Slug) String() string {
	return string(s)
}

// Code models a provisioned QR code and its claim lifecycle state.
type Code struct {
	ID                string `gorm:"column:id;primaryKey;size:190;not null"`
	Slug              string `gorm:"column:slug;size:190;not null;uniqueIndex:idx_qr_codes_slug"`
	Status            Status `gorm:"column:status;size:16;not null;default:unclaimed"`
	LastScanAtSeconds *int64 `gorm:"column:last_scan_at_s"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Code) TableName() string {
	return "qr_codes"
}

// Note holds the editable content behind a code. Exactly one note exists
// per code once a claim has been finalized; none exists before.
type Note struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	QRID             string  `gorm:"column:qr_id;size:190;not null;uniqueIndex:idx_qr_notes_qr"`
	Title            *string `gorm:"column:title;size:320"`
	Body             *string `gorm:"column:body;type:text"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
	Version          int64   `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "qr_notes"
}

// Claim records which user owns a code, plus the shared edit secrets.
// The unique index on qr_id makes the claim upsert converge to one row.
type Claim struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	QRID             string  `gorm:"column:qr_id;size:190;not null;uniqueIndex:idx_qr_claims_qr"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index"`
	ClaimedAtSeconds int64   `gorm:"column:claimed_at_s;not null"`
	PinHash          *string `gorm:"column:pin_hash;size:320"`
	EditableByPublic bool    `gorm:"column:editable_by_public;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Claim) TableName() string {
	return "qr_claims"
}

// User is created lazily the first time an email finalizes a claim.
type User struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Email            string `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// EventKind enumerates audit event types.
type EventKind string

// EventKindScan records a resolve of a code.
const EventKindScan EventKind = "scan"

// AuditEvent is an append-only log entry. Rows are never mutated or deleted.
type AuditEvent struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null"`
	QRID             string    `gorm:"column:qr_id;size:190;not null;index:idx_audit_events_qr"`
	IP               string    `gorm:"column:ip;size:64;not null"`
	Kind             EventKind `gorm:"column:kind;size:32;not null"`
	TimestampSeconds int64     `gorm:"column:ts_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AuditEvent) TableName() string {
	return "audit_events"
}
