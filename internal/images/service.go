// Package images implements upload, edit, delete and listing of image
// metadata together with the blobs they describe.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/internal/blob"
	"github.com/petermazzocco/go-image-sharing/models"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Error ids shown on the error page.
const (
	ErrIDEditNotAuth     = "EditNotAuth"
	ErrIDEditNotFound    = "EditNotFound"
	ErrIDDeleteNotAuth   = "DeleteNotAuth"
	ErrIDDeleteNotFound  = "DeleteNotFound"
	ErrIDListByUser      = "ListByUser"
	ErrIDListByTag       = "ListByTag"
	errIDDetailsNotFound = "Details: "
)

const (
	MaxCaption     = 40
	MaxDescription = 200
)

// Encoder converts uploaded bytes into the stored representation.
type Encoder interface {
	Encode(data []byte) ([]byte, string, error)
}

type Options struct {
	RequireApproval bool
	// Encoder is optional. Without one the upload is stored as sent.
	Encoder Encoder
	// ReconcileGrace is how long an invalid record may exist before the
	// reconciler removes it.
	ReconcileGrace time.Duration
	// DeleteConcurrency bounds parallel blob removals.
	DeleteConcurrency int
}

type Service struct {
	store *Store
	blobs blob.Store
	log   *zap.Logger
	opts  Options
	now   func() time.Time
}

func NewService(store *Store, blobs blob.Store, log *zap.Logger, opts Options) *Service {
	if opts.DeleteConcurrency <= 0 {
		opts.DeleteConcurrency = 4
	}
	if opts.ReconcileGrace <= 0 {
		opts.ReconcileGrace = 15 * time.Minute
	}
	return &Service{store: store, blobs: blobs, log: log, opts: opts, now: time.Now}
}

// Owner identifies the uploading user.
type Owner struct {
	ID       uint
	UserName string
}

type UploadInput struct {
	Caption     string
	Description string
	DateTaken   time.Time
	TagID       uint
	Data        []byte
}

// Upload stores a new image. The record is written first as invalid, then
// the blob, then the record is flipped to valid. A failed blob write removes
// the record again; if that also fails the reconciler cleans it up later.
func (s *Service) Upload(ctx context.Context, owner Owner, in UploadInput) (*models.Image, error) {
	if err := validateMetadata(in.Caption, in.Description, in.DateTaken); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, apperr.Field("ImageFile", "An image file is required")
	}
	contentType := http.DetectContentType(in.Data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperr.Field("ImageFile", "The uploaded file is not an image")
	}

	var tagID *uint
	if in.TagID != 0 {
		if _, err := s.store.GetTag(ctx, in.TagID); err != nil {
			if errors.Is(err, ErrTagNotFound) {
				return nil, apperr.Field("TagId", "Unknown tag")
			}
			return nil, apperr.Internal(err, "load tag %d", in.TagID)
		}
		tagID = &in.TagID
	}

	data := in.Data
	if s.opts.Encoder != nil {
		encoded, ct, err := s.opts.Encoder.Encode(data)
		if err != nil {
			return nil, apperr.Field("ImageFile", "The image could not be processed")
		}
		data, contentType = encoded, ct
	}

	img := &models.Image{
		ID:          uuid.NewString(),
		Caption:     in.Caption,
		Description: in.Description,
		DateTaken:   in.DateTaken,
		UserID:      owner.ID,
		UserName:    owner.UserName,
		TagID:       tagID,
		Approved:    !s.opts.RequireApproval,
		Valid:       false,
	}
	if err := s.store.Create(ctx, img); err != nil {
		return nil, apperr.Storage("failed to save image metadata", err)
	}

	if err := s.blobs.Put(ctx, owner.ID, img.ID, bytes.NewReader(data), contentType); err != nil {
		s.log.Error("blob write failed, removing metadata",
			zap.String("image_id", img.ID), zap.Uint("user_id", owner.ID), zap.Error(err))
		if cerr := s.store.Delete(context.WithoutCancel(ctx), img.ID); cerr != nil {
			s.log.Error("compensation failed, left for reconciler",
				zap.String("image_id", img.ID), zap.Error(cerr))
		}
		return nil, apperr.Storage("failed to store image", err)
	}

	if err := s.store.SetValid(ctx, img.ID); err != nil {
		// The blob exists but the record stays hidden; the reconciler
		// removes both once the grace period passes.
		return nil, apperr.Storage("failed to publish image", err)
	}
	img.Valid = true

	s.log.Info("image uploaded",
		zap.String("image_id", img.ID),
		zap.Uint("user_id", owner.ID),
		zap.Int("bytes", len(data)))
	return img, nil
}

func validateMetadata(caption, description string, dateTaken time.Time) error {
	fields := map[string]string{}
	switch {
	case strings.TrimSpace(caption) == "":
		fields["Caption"] = "Please provide a caption"
	case len([]rune(caption)) > MaxCaption:
		fields["Caption"] = fmt.Sprintf("Caption cannot be longer than %d characters", MaxCaption)
	}
	if len([]rune(description)) > MaxDescription {
		fields["Description"] = fmt.Sprintf("Description cannot be longer than %d characters", MaxDescription)
	}
	if dateTaken.IsZero() {
		fields["DateTaken"] = "Please provide the date the picture was taken"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid image details", fields)
	}
	return nil
}

// Get returns an image by id regardless of its state.
func (s *Service) Get(ctx context.Context, id string) (*models.Image, error) {
	img, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(errIDDetailsNotFound + id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load image %s", id)
	}
	return img, nil
}

// Viewer is the signed in user asking for an image.
type Viewer struct {
	ID       uint
	Approver bool
}

// Details returns an image of ownerID. Unapproved images are shown only to
// their owner and to approvers.
func (s *Service) Details(ctx context.Context, viewer Viewer, ownerID uint, id string) (*models.Image, error) {
	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.UserID != ownerID || !img.Valid {
		return nil, apperr.NotFound(errIDDetailsNotFound + id)
	}
	if !img.Approved && viewer.ID != img.UserID && !viewer.Approver {
		return nil, apperr.NotFound(errIDDetailsNotFound + id)
	}
	return img, nil
}

// Action selects the error ids reported by Owned.
type Action int

const (
	ActionEdit Action = iota
	ActionDelete
)

func (a Action) errIDs() (notAuth, notFound string) {
	if a == ActionDelete {
		return ErrIDDeleteNotAuth, ErrIDDeleteNotFound
	}
	return ErrIDEditNotAuth, ErrIDEditNotFound
}

// Owned loads image id for a mutation by callerID. routeUserID is the
// owner named in the request path; both it and the stored owner must
// match the caller.
func (s *Service) Owned(ctx context.Context, action Action, callerID, routeUserID uint, id string) (*models.Image, error) {
	notAuth, notFound := action.errIDs()
	if callerID != routeUserID {
		return nil, apperr.Authorization(notAuth)
	}
	img, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(notFound)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load image %s", id)
	}
	if img.UserID != callerID {
		return nil, apperr.Authorization(notAuth)
	}
	return img, nil
}

type EditInput struct {
	Caption     string
	Description string
	DateTaken   time.Time
}

func (s *Service) Edit(ctx context.Context, callerID, routeUserID uint, id string, in EditInput) (*models.Image, error) {
	img, err := s.Owned(ctx, ActionEdit, callerID, routeUserID, id)
	if err != nil {
		return nil, err
	}
	if err := validateMetadata(in.Caption, in.Description, in.DateTaken); err != nil {
		return nil, err
	}
	img.Caption = in.Caption
	img.Description = in.Description
	img.DateTaken = in.DateTaken
	if err := s.store.Update(ctx, img); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound(ErrIDEditNotFound)
		}
		return nil, apperr.Storage("failed to update image", err)
	}
	return img, nil
}

// Delete removes the record and then the blob. Blob failures are logged.
func (s *Service) Delete(ctx context.Context, callerID, routeUserID uint, id string) error {
	img, err := s.Owned(ctx, ActionDelete, callerID, routeUserID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, img.ID); err != nil {
		return apperr.Storage("failed to delete image", err)
	}
	s.removeBlob(ctx, img.UserID, img.ID)
	return nil
}

func (s *Service) removeBlob(ctx context.Context, userID uint, id string) {
	if err := s.blobs.Delete(ctx, userID, id); err != nil {
		s.log.Warn("failed to delete blob",
			zap.String("image_id", id), zap.Uint("user_id", userID), zap.Error(err))
	}
}

// RemoveUserImages deletes every image owned by userID. The metadata rows
// go in one statement, before any blob, so the images disappear from
// listings even when blob removal fails.
func (s *Service) RemoveUserImages(ctx context.Context, userID uint) (int, error) {
	imgs, err := s.store.ListByOwner(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err, "list images of user %d", userID)
	}
	if len(imgs) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(imgs))
	for _, img := range imgs {
		ids = append(ids, img.ID)
	}
	if err := s.store.DeleteOwned(ctx, userID, ids); err != nil {
		return 0, apperr.Storage("failed to delete images", err)
	}

	p := pool.New().WithMaxGoroutines(s.opts.DeleteConcurrency)
	for _, img := range imgs {
		p.Go(func() {
			s.removeBlob(ctx, img.UserID, img.ID)
		})
	}
	p.Wait()

	s.log.Info("removed user images", zap.Uint("user_id", userID), zap.Int("count", len(imgs)))
	return len(imgs), nil
}

func (s *Service) ListAll(ctx context.Context) ([]models.Image, error) {
	imgs, err := s.store.ListVisible(ctx, Filter{})
	if err != nil {
		return nil, apperr.Internal(err, "list images")
	}
	return imgs, nil
}

// ListByUser lists the visible images of a user the caller already
// resolved.
func (s *Service) ListByUser(ctx context.Context, userID uint) ([]models.Image, error) {
	imgs, err := s.store.ListVisible(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, apperr.Internal(err, "list images of user %d", userID)
	}
	return imgs, nil
}

func (s *Service) ListByTag(ctx context.Context, tagID uint) (*models.Tag, []models.Image, error) {
	tag, err := s.store.GetTag(ctx, tagID)
	if errors.Is(err, ErrTagNotFound) {
		return nil, nil, apperr.NotFound(ErrIDListByTag)
	}
	if err != nil {
		return nil, nil, apperr.Internal(err, "load tag %d", tagID)
	}
	imgs, err := s.store.ListVisible(ctx, Filter{TagID: tagID})
	if err != nil {
		return nil, nil, apperr.Internal(err, "list images of tag %d", tagID)
	}
	return tag, imgs, nil
}

func (s *Service) Tags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list tags")
	}
	return tags, nil
}

func (s *Service) Pending(ctx context.Context) ([]models.Image, error) {
	imgs, err := s.store.Pending(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list pending images")
	}
	return imgs, nil
}

func (s *Service) Approve(ctx context.Context, ids []string) (int64, error) {
	n, err := s.store.Approve(ctx, ids)
	if err != nil {
		return 0, apperr.Storage("failed to approve images", err)
	}
	return n, nil
}

// OpenFile opens the blob of an image viewer may see.
func (s *Service) OpenFile(ctx context.Context, viewer Viewer, ownerID uint, id string) (*blob.Object, error) {
	img, err := s.Details(ctx, viewer, ownerID, id)
	if err != nil {
		return nil, err
	}
	obj, err := s.blobs.Open(ctx, img.UserID, img.ID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, apperr.NotFound(errIDDetailsNotFound + id)
	}
	if err != nil {
		return nil, apperr.Storage("failed to read image", err)
	}
	return obj, nil
}

func (s *Service) URI(img *models.Image) string {
	return s.blobs.URI(img.UserID, img.ID)
}
