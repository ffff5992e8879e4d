package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeSlugCase      = "2026-07-14_normalize_slug_case"
	migrationNormalizeUserEmailCase = "2026-07-14_normalize_user_email_case"
)

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
		{name: migrationNormalizeSlugCase, apply: normalizeSlugCase},
		{name: migrationNormalizeUserEmailCase, apply: normalizeUserEmailCase},
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

// Slugs printed on stickers are matched byte-for-byte; rows provisioned
// before lookup went case-exact need folding to lowercase.
func normalizeSlugCase(db *gorm.DB) error {
	return db.Exec("UPDATE qr_codes SET slug = lower(slug);").Error
}

// Lazy user creation keys on email equality, so stored addresses must be
// lowercase like the finalization path writes them.
func normalizeUserEmailCase(db *gorm.DB) error {
	return db.Exec("UPDATE users SET email = lower(email);").Error
}
