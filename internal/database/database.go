package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/petermazzocco/go-image-sharing/internal/config"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database and sizes its pool.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	log.Info("database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate creates or updates every table the application uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Tag{},
		&models.Image{},
		&models.LogEntry{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return nil
}

// EnsureReferenceData inserts the fixed roles and the configured tags that
// are missing. Existing rows are left alone.
func EnsureReferenceData(ctx context.Context, db *gorm.DB, tags []string) error {
	for _, name := range models.AllRoles {
		role := models.Role{Name: name}
		if err := db.WithContext(ctx).Where(models.Role{Name: name}).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	for _, name := range tags {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if len(name) > 20 {
			return fmt.Errorf("tag %q is longer than 20 characters", name)
		}
		tag := models.Tag{Name: name}
		if err := db.WithContext(ctx).Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
			return fmt.Errorf("ensure tag %s: %w", name, err)
		}
	}
	return nil
}

// IsTransient reports whether err is a connection level failure after which
// the statement can safely be sent again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// Retry runs fn and runs it once more when the first failure is transient.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return err
	}
	return fn(ctx)
}
