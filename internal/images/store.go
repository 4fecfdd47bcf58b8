package images

import (
	"context"
	"errors"
	"time"

	"github.com/petermazzocco/go-image-sharing/internal/database"
	"github.com/petermazzocco/go-image-sharing/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrTagNotFound = errors.New("tag not found")
)

// Filter narrows ListVisible. Zero values match everything.
type Filter struct {
	UserID uint
	TagID  uint
}

// Store persists image metadata and tags.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, img *models.Image) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Omit("User", "Tag").Create(img).Error
	})
}

func (s *Store) Get(ctx context.Context, id string) (*models.Image, error) {
	var img models.Image
	err := s.db.WithContext(ctx).Preload("Tag").Where("id = ?", id).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Update writes the editable fields of img. Ownership, tag and state
// columns are never touched.
func (s *Store) Update(ctx context.Context, img *models.Image) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.Image{ID: img.ID}).
			Select("caption", "description", "date_taken").
			Updates(map[string]any{
				"caption":     img.Caption,
				"description": img.Description,
				"date_taken":  img.DateTaken,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) SetValid(ctx context.Context, id string) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.Image{}).Where("id = ?", id).Update("valid", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Image{}).Error
	})
}

// DeleteOwned removes the listed images of userID in one statement.
func (s *Store) DeleteOwned(ctx context.Context, userID uint, ids []string) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("user_id = ? AND id IN ?", userID, ids).
			Delete(&models.Image{}).Error
	})
}

// ListVisible returns approved and valid images oldest first.
func (s *Store) ListVisible(ctx context.Context, f Filter) ([]models.Image, error) {
	q := s.db.WithContext(ctx).Preload("Tag").Where("approved = ? AND valid = ?", true, true)
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.TagID != 0 {
		q = q.Where("tag_id = ?", f.TagID)
	}
	var imgs []models.Image
	if err := q.Order("created_at ASC").Order("id ASC").Find(&imgs).Error; err != nil {
		return nil, err
	}
	return imgs, nil
}

// ListByOwner returns every image of the user regardless of state.
func (s *Store) ListByOwner(ctx context.Context, userID uint) ([]models.Image, error) {
	var imgs []models.Image
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&imgs).Error
	return imgs, err
}

// Pending returns stored images still waiting for approval.
func (s *Store) Pending(ctx context.Context) ([]models.Image, error) {
	var imgs []models.Image
	err := s.db.WithContext(ctx).Preload("Tag").
		Where("approved = ? AND valid = ?", false, true).
		Order("created_at ASC").Order("id ASC").
		Find(&imgs).Error
	return imgs, err
}

func (s *Store) Approve(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := database.Retry(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.Image{}).
			Where("id IN ? AND valid = ?", ids, true).
			Update("approved", true)
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// ListStale returns records that never became valid and were created
// before cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]models.Image, error) {
	var imgs []models.Image
	err := s.db.WithContext(ctx).Where("valid = ? AND created_at < ?", false, cutoff).Find(&imgs).Error
	return imgs, err
}

func (s *Store) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	err := s.db.WithContext(ctx).Order("name ASC").Find(&tags).Error
	return tags, err
}

func (s *Store) GetTag(ctx context.Context, id uint) (*models.Tag, error) {
	var tag models.Tag
	err := s.db.WithContext(ctx).First(&tag, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}
