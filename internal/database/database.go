package database

import (
	"database/sql"
	"fmt"
	"time"

	"sqlagent/internal/config"
	"sqlagent/internal/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewHistoryDB opens the query-run history store via GORM
func NewHistoryDB(cfg config.Config) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Server.Debug {
		logLevel = logger.Info
	} else {
		logLevel = logger.Error
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DB.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DB.DSN)
	default:
		return nil, fmt.Errorf("unsupported history database driver: %s", cfg.DB.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	return db, nil
}

// AutoMigrate runs history store migrations
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.QueryRun{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// NewWarehouse opens the analytics database the generated SQL executes against.
// Only sqlite and postgres are supported; the connection is read-oriented and
// the executor additionally rejects mutating statements.
func NewWarehouse(cfg config.Config) (*sql.DB, error) {
	var driverName string
	switch cfg.Warehouse.Driver {
	case "postgres":
		driverName = "postgres"
	case "sqlite", "sqlite3":
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported warehouse driver: %s", cfg.Warehouse.Driver)
	}

	db, err := sql.Open(driverName, cfg.Warehouse.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
