// Package viewlog records who viewed which image and when.
package viewlog

import (
	"context"
	"iter"
	"time"

	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
)

const defaultPageSize = 100

// Viewer is the signed in user looking at an image.
type Viewer struct {
	ID       uint
	UserName string
}

type Log struct {
	store    Store
	log      *zap.Logger
	now      func() time.Time
	pageSize int
}

func New(store Store, log *zap.Logger) *Log {
	return &Log{store: store, log: log, now: time.Now, pageSize: defaultPageSize}
}

// WithClock replaces the time source.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// WithPageSize sets how many entries each store round trip fetches.
func (l *Log) WithPageSize(n int) *Log {
	if n > 0 {
		l.pageSize = n
	}
	return l
}

// Record appends one entry for viewer looking at img, served from uri.
func (l *Log) Record(ctx context.Context, viewer Viewer, img *models.Image, uri string) (models.LogEntry, error) {
	now := l.now().UTC()
	e := models.LogEntry{
		PartitionKey: PartitionKey(now),
		RowKey:       RowKey(img.ID, now),
		UserID:       viewer.ID,
		UserName:     viewer.UserName,
		Caption:      img.Caption,
		ImageID:      img.ID,
		URI:          uri,
		EntryDate:    now,
	}
	if err := l.store.Append(ctx, e); err != nil {
		return e, err
	}
	l.log.Debug("view recorded", zap.String("image_id", img.ID), zap.Uint("viewer_id", viewer.ID))
	return e, nil
}

// Entries lazily walks the log page by page. todayOnly restricts it to the
// current UTC day. Iteration stops after the first error.
func (l *Log) Entries(ctx context.Context, todayOnly bool) iter.Seq2[models.LogEntry, error] {
	var q Query
	if todayOnly {
		q.Partition = PartitionKey(l.now())
	}
	return func(yield func(models.LogEntry, error) bool) {
		cursor := ""
		for {
			page, next, err := l.store.Page(ctx, q, cursor, l.pageSize)
			if err != nil {
				yield(models.LogEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq2[models.LogEntry, error]) ([]models.LogEntry, error) {
	var out []models.LogEntry
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
