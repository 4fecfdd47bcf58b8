package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/petermazzocco/go-image-sharing/internal/config"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
)

func TestOpenMigrateAndSeed(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:database_%s?mode=memory&cache=shared", t.Name()),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	ctx := context.Background()
	tags := []string{"nature", " travel ", ""}
	for i := 0; i < 2; i++ {
		if err := EnsureReferenceData(ctx, db, tags); err != nil {
			t.Fatalf("EnsureReferenceData() error = %v", err)
		}
	}

	var roles, tagCount int64
	db.Model(&models.Role{}).Count(&roles)
	db.Model(&models.Tag{}).Count(&tagCount)
	if roles != int64(len(models.AllRoles)) {
		t.Errorf("roles = %d, want %d", roles, len(models.AllRoles))
	}
	if tagCount != 2 {
		t.Errorf("tags = %d, want 2", tagCount)
	}

	if err := EnsureReferenceData(ctx, db, []string{"a-tag-name-that-is-far-too-long"}); err == nil {
		t.Error("expected error for long tag name")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop()); err == nil {
		t.Fatal("Open() error = nil, want error")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("exec: %w", driver.ErrBadConn)
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("transient: err = %v, calls = %d, want nil and 2", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = Retry(ctx, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("permanent: err = %v, calls = %d, want permanent and 1", err, calls)
	}

	calls = 0
	err = Retry(ctx, func(context.Context) error {
		calls++
		return driver.ErrBadConn
	})
	if !errors.Is(err, driver.ErrBadConn) || calls != 2 {
		t.Errorf("twice: err = %v, calls = %d, want ErrBadConn and 2", err, calls)
	}
}
