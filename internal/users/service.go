// Package users manages accounts: registration, credentials, roles and the
// active flag administrators toggle.
package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPassword = 6
	MaxPassword = 100
)

var validate = validator.New()

// ImageRemover deletes every image of a user.
type ImageRemover interface {
	RemoveUserImages(ctx context.Context, userID uint) (int, error)
}

type Service struct {
	store  *Store
	images ImageRemover
	log    *zap.Logger
	cost   int
}

func NewService(store *Store, images ImageRemover, log *zap.Logger) *Service {
	return &Service{store: store, images: images, log: log, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	Ada             bool
}

func checkPassword(field, password, confirm string) map[string]string {
	fields := map[string]string{}
	switch n := len(password); {
	case n < MinPassword || n > MaxPassword:
		fields[field] = fmt.Sprintf("The password must be at least %d and at most %d characters long.", MinPassword, MaxPassword)
	case password != confirm:
		fields["ConfirmPassword"] = "The password and confirmation password do not match."
	}
	return fields
}

// normalizeName folds user names and emails so lookups ignore case.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register creates an active account with the User role. The email,
// lower-cased, is the user name.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeName(in.Email)
	fields := checkPassword("Password", in.Password, in.ConfirmPassword)
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		fields["Email"] = "Please provide a valid email address."
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid registration", fields)
	}

	if _, err := s.store.FindByUserName(ctx, email); err == nil {
		return nil, apperr.Field("Email", "Email is already registered.")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperr.Internal(err, "lookup user %s", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}
	u := &models.User{
		UserName:     email,
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
		Ada:          in.Ada,
	}
	if err := s.store.Create(ctx, u, models.RoleUser); err != nil {
		// a concurrent registration took the name after the lookup above
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Field("Email", "Email is already registered.")
		}
		if _, ferr := s.store.FindByUserName(ctx, email); ferr == nil {
			return nil, apperr.Field("Email", "Email is already registered.")
		}
		return nil, apperr.Storage("failed to create user", err)
	}
	s.log.Info("user registered", zap.Uint("user_id", u.ID), zap.String("user_name", u.UserName))
	return u, nil
}

// Authenticate checks a password login. Missing and inactive users both
// report MsgNoSuchUser.
func (s *Service) Authenticate(ctx context.Context, userName, password string) (*models.User, error) {
	u, err := s.store.FindByUserName(ctx, normalizeName(userName))
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Auth(apperr.MsgNoSuchUser)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lookup user")
	}
	if !u.Active {
		return nil, apperr.Auth(apperr.MsgNoSuchUser)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Auth(apperr.MsgLoginFailed)
	}
	return u, nil
}

// AuthenticateExternal resolves an identity confirmed by an external
// provider. Only existing active accounts may sign in this way.
func (s *Service) AuthenticateExternal(ctx context.Context, email string) (*models.User, error) {
	u, err := s.store.FindByEmail(ctx, normalizeName(email))
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Auth(apperr.MsgNoSuchUser)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lookup user")
	}
	if !u.Active {
		return nil, apperr.Auth(apperr.MsgNoSuchUser)
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword, confirm string) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)); err != nil {
		return apperr.Field("OldPassword", "The current password is incorrect.")
	}
	if fields := checkPassword("NewPassword", newPassword, confirm); len(fields) > 0 {
		return apperr.Validation("invalid password", fields)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return apperr.Internal(err, "hash password")
	}
	if err := s.store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return apperr.Storage("failed to update password", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("UserNotFound")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load user %d", id)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	us, err := s.store.List(ctx, false)
	if err != nil {
		return nil, apperr.Internal(err, "list users")
	}
	return us, nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.User, error) {
	us, err := s.store.List(ctx, true)
	if err != nil {
		return nil, apperr.Internal(err, "list users")
	}
	return us, nil
}

// ManageResult counts the state changes Manage applied.
type ManageResult struct {
	Deactivated   int
	Reactivated   int
	ImagesRemoved int
}

// Manage applies the desired active flag per user id. Deactivating a user
// removes all of their images first; reactivating only sets the flag.
// Users already in the desired state are not touched.
func (s *Service) Manage(ctx context.Context, desired map[uint]bool) (ManageResult, error) {
	var res ManageResult

	ids := make([]uint, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		want := desired[id]
		u, err := s.store.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("manage: unknown user", zap.Uint("user_id", id))
			continue
		}
		if err != nil {
			return res, apperr.Internal(err, "load user %d", id)
		}
		if u.Active == want {
			continue
		}

		if !want {
			n, err := s.images.RemoveUserImages(ctx, id)
			if err != nil {
				return res, err
			}
			res.ImagesRemoved += n
		}
		if err := s.store.SetActive(ctx, id, want); err != nil {
			return res, apperr.Storage("failed to update user", err)
		}
		if want {
			res.Reactivated++
		} else {
			res.Deactivated++
		}
		s.log.Info("user state changed",
			zap.Uint("user_id", id), zap.String("user_name", u.UserName), zap.Bool("active", want))
	}
	return res, nil
}

// Promote grants role to the named user.
func (s *Service) Promote(ctx context.Context, userName, role string) error {
	known := false
	for _, r := range models.AllRoles {
		if r == role {
			known = true
		}
	}
	if !known {
		return apperr.Field("Role", fmt.Sprintf("unknown role %q", role))
	}
	u, err := s.store.FindByUserName(ctx, normalizeName(userName))
	if errors.Is(err, ErrNotFound) {
		return apperr.Auth(apperr.MsgNoSuchUser)
	}
	if err != nil {
		return apperr.Internal(err, "lookup user")
	}
	if err := s.store.AddRole(ctx, u.ID, role); err != nil {
		return apperr.Storage("failed to grant role", err)
	}
	return nil
}
