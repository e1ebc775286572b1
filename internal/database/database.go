package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/users"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the backing database.
type Options struct {
	Driver string
	// Path is the SQLite file; DSN the Postgres connection string.
	Path string
	DSN  string
}

// Open connects to the configured database and brings the schema up to date.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	var target string
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		if options.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		dialector = sqlite.Open(options.Path)
		target = options.Path
	case DriverPostgres:
		if options.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		dialector = postgres.Open(options.DSN)
		target = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := migrateSchema(db); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("driver", db.Dialector.Name()),
		zap.String("target", target))
	return db, nil
}

func migrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&users.Identity{},
		&users.Profile{},
		&items.Item{},
		&items.Rule{},
		&items.AuditEntry{},
		&migrationRecord{},
	)
}
