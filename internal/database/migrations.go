package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shrutihegde1/study-buddy/internal/items"
)

const (
	migrationStripProviderPrefix = "2025-02-01_strip_google_prefix_from_user_ids"
	migrationSplitCalendarSource = "2025-02-15_split_calendar_feed_source"
	migrationBackfillPriority    = "2025-03-01_backfill_item_priority"

	providerPrefix = "google:"
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

var migrations = []migrationDefinition{
	{name: migrationStripProviderPrefix, apply: stripProviderPrefix},
	{name: migrationSplitCalendarSource, apply: splitCalendarSource},
	{name: migrationBackfillPriority, apply: backfillPriority},
}

// applyMigrations runs each data migration once, inside its own transaction
// together with its bookkeeping row.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return fmt.Errorf("%s: %w", migration.name, err)
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// stripProviderPrefix rewrites "google:<sub>" owner ids to the bare subject
// used as the canonical user id.
func stripProviderPrefix(db *gorm.DB) error {
	start := len(providerPrefix) + 1
	for _, table := range []string{"items", "categorization_rules", "sync_audit_log", "user_profiles"} {
		statement := fmt.Sprintf("UPDATE %s SET user_id = substr(user_id, %d) WHERE substr(user_id, 1, %d) = ?", table, start, len(providerPrefix))
		if err := db.Exec(statement, providerPrefix).Error; err != nil {
			return err
		}
	}
	return nil
}

// splitCalendarSource moves feed items once stored under the canvas source.
func splitCalendarSource(db *gorm.DB) error {
	return db.Model(&items.Item{}).
		Where("source = ? AND substr(source_id, 1, 5) = ?", items.SourceCanvas, "ical_").
		Update("source", items.SourceCanvasCalendar).Error
}

func backfillPriority(db *gorm.DB) error {
	return db.Model(&items.Item{}).
		Where("priority = ''").
		Update("priority", items.PriorityMedium).Error
}
