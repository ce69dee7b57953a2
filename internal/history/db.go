// Package history persists a local run-history ledger: one row per run or
// transfer invocation, queried by the info command and available for
// operator auditing. It is a single-operator
// local cache next to the binary, not a multi-tenant server database, so it
// uses a pure-Go SQLite driver through GORM with AutoMigrate rather than the
// postgres+golang-migrate stack a multi-tenant server would need.
package history

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver — no CGO required. Registers itself as
	// "sqlite" in database/sql.
	_ "modernc.org/sqlite"
)

// Config holds the configuration required to open the history store.
type Config struct {
	DSN      string // e.g. "/var/lib/snapkeep/history.db"
	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// Open opens the history database, applies the schema via AutoMigrate, and
// returns the ready-to-use *gorm.DB instance.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("history: logger is required")
	}

	sqlDB, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open sqlite: %w", err)
	}
	// SQLite supports only one writer at a time.
	sqlDB.SetMaxOpenConns(1)

	gormCfg := &gorm.Config{Logger: newZapGORMLogger(cfg.Logger, cfg.LogLevel)}
	database, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("history: failed to initialize gorm with sqlite: %w", err)
	}

	if err := database.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("history: schema migration failed: %w", err)
	}

	return database, nil
}
