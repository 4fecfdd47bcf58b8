package viewlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/petermazzocco/go-image-sharing/internal/database"
	"github.com/petermazzocco/go-image-sharing/models"
	"gorm.io/gorm"
)

// Query selects entries. An empty Partition selects every day.
type Query struct {
	Partition string
}

// Store is an append-only table of view entries. Page returns entries by
// partition descending, then row key ascending, continuing after cursor.
// The returned cursor is empty once the result is exhausted.
type Store interface {
	Append(ctx context.Context, e models.LogEntry) error
	Page(ctx context.Context, q Query, cursor string, limit int) ([]models.LogEntry, string, error)
}

func encodeCursor(e models.LogEntry) string {
	return e.PartitionKey + "|" + e.RowKey
}

func decodeCursor(c string) (pk, rk string, err error) {
	pk, rk, ok := strings.Cut(c, "|")
	if !ok || pk == "" || rk == "" {
		return "", "", fmt.Errorf("invalid cursor %q", c)
	}
	return pk, rk, nil
}

// GormStore keeps entries in the log_entries table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Append(ctx context.Context, e models.LogEntry) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Create(&e).Error
	})
}

func (s *GormStore) Page(ctx context.Context, q Query, cursor string, limit int) ([]models.LogEntry, string, error) {
	tx := s.db.WithContext(ctx).Model(&models.LogEntry{})
	if q.Partition != "" {
		tx = tx.Where("partition_key = ?", q.Partition)
	}
	if cursor != "" {
		pk, rk, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		tx = tx.Where("partition_key < ? OR (partition_key = ? AND row_key > ?)", pk, pk, rk)
	}

	var entries []models.LogEntry
	err := tx.Order("partition_key DESC").Order("row_key ASC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(entries) == limit && limit > 0 {
		next = encodeCursor(entries[len(entries)-1])
	}
	return entries, next, nil
}
