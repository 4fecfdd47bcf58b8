// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/petermazzocco/go-image-sharing/internal/blob"
	"github.com/petermazzocco/go-image-sharing/internal/config"
	"github.com/petermazzocco/go-image-sharing/internal/database"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var dbSeq int64

// Tags are the reference tags SetupDB inserts.
var Tags = []string{"nature", "people", "travel"}

// SetupDB opens a unique in-memory SQLite database, migrates it and inserts
// the reference roles and Tags.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()

	seq := atomic.AddInt64(&dbSeq, 1)
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:imgshare_%d?mode=memory&cache=shared", seq),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := database.EnsureReferenceData(context.Background(), db, Tags); err != nil {
		t.Fatalf("reference data: %v", err)
	}
	return db
}

// CreateUser inserts an active user with the given roles and password
// "secret1".
func CreateUser(t *testing.T, db *gorm.DB, name string, roles ...string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	var rs []models.Role
	if len(roles) > 0 {
		if err := db.Where("name IN ?", roles).Find(&rs).Error; err != nil {
			t.Fatal(err)
		}
	}
	u := &models.User{
		UserName:     name,
		Email:        name,
		PasswordHash: string(hash),
		Active:       true,
		Roles:        rs,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

// TagID returns the id of a reference tag.
func TagID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var tag models.Tag
	if err := db.Where("name = ?", name).First(&tag).Error; err != nil {
		t.Fatalf("tag %s: %v", name, err)
	}
	return tag.ID
}

// MemBlobs is an in-memory blob.Store. Setting FailPut makes Put fail.
type MemBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	FailPut bool
}

func NewMemBlobs() *MemBlobs {
	return &MemBlobs{objects: map[string][]byte{}}
}

func (m *MemBlobs) Put(_ context.Context, userID uint, imageID string, body io.ReadSeeker, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return fmt.Errorf("blob backend unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[blob.Key(userID, imageID)] = data
	return nil
}

func (m *MemBlobs) Open(_ context.Context, userID uint, imageID string) (*blob.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[blob.Key(userID, imageID)]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return &blob.Object{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   "image/png",
		ContentLength: int64(len(data)),
	}, nil
}

func (m *MemBlobs) Delete(_ context.Context, userID uint, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, blob.Key(userID, imageID))
	return nil
}

func (m *MemBlobs) URI(userID uint, imageID string) string {
	return blob.FileRoute(userID, imageID)
}

// Has reports whether a blob exists.
func (m *MemBlobs) Has(userID uint, imageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[blob.Key(userID, imageID)]
	return ok
}

func (m *MemBlobs) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// PNG is a minimal payload that sniffs as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
