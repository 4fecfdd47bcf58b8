package users

import (
	"context"
	"errors"

	"github.com/petermazzocco/go-image-sharing/internal/database"
	"github.com/petermazzocco/go-image-sharing/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("user name already taken")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts u and grants it the named roles. A taken user name
// reports ErrDuplicate.
func (s *Store) Create(ctx context.Context, u *models.User, roles ...string) error {
	err := database.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if len(roles) > 0 {
				var rs []models.Role
				if err := tx.Where("name IN ?", roles).Find(&rs).Error; err != nil {
					return err
				}
				u.Roles = rs
			}
			return tx.Create(u).Error
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) FindByID(ctx context.Context, id uint) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Store) FindByUserName(ctx context.Context, name string) (*models.User, error) {
	return s.first(ctx, "user_name = ?", name)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *Store) first(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where(query, args...).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns users ordered by name. activeOnly skips deactivated users.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]models.User, error) {
	q := s.db.WithContext(ctx).Order("user_name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var us []models.User
	err := q.Find(&us).Error
	return us, err
}

func (s *Store) SetActive(ctx context.Context, id uint, active bool) error {
	return s.update(ctx, id, "active", active)
}

func (s *Store) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return s.update(ctx, id, "password_hash", hash)
}

func (s *Store) update(ctx context.Context, id uint, column string, value any) error {
	return database.Retry(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.User{ID: id}).Update(column, value)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AddRole grants role to user id. Granting a held role is a no-op.
func (s *Store) AddRole(ctx context.Context, id uint, role string) error {
	var r models.Role
	if err := s.db.WithContext(ctx).Where("name = ?", role).First(&r).Error; err != nil {
		return err
	}
	return database.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&models.User{ID: id}).Association("Roles").Append(&r)
	})
}
