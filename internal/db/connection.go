package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database driver.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY under the worker pool
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return conn, nil
}

// Connect opens the database and stores it in DB.
func Connect(cfg config.DatabaseConfig) error {
	conn, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = conn
	logger.Info("Database connected successfully", map[string]interface{}{"driver": cfg.Driver})
	return nil
}

// AutoMigrate runs database migrations
func AutoMigrate(conn *gorm.DB) error {
	tables := []interface{}{
		&models.User{},
		&models.Document{},
		&models.AnalysisJob{},
		&models.AnalysisEvent{},
	}
	for _, table := range tables {
		if err := conn.AutoMigrate(table); err != nil {
			return fmt.Errorf("migration of %T failed: %w", table, err)
		}
	}
	logger.Info("All database migrations completed successfully", map[string]interface{}{"tables": len(tables)})
	return nil
}

// Ping checks database connectivity.
func Ping(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("database connection not initialized")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "warn":
		return gormlogger.Warn
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Error
	}
}
