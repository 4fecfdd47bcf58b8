package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/images"
	"github.com/petermazzocco/go-image-sharing/internal/metrics"
	"github.com/petermazzocco/go-image-sharing/internal/viewlog"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
)

type imageView struct {
	ID          string `json:"id"`
	Caption     string `json:"caption"`
	Description string `json:"description"`
	DateTaken   string `json:"dateTaken"`
	URI         string `json:"uri"`
	UserName    string `json:"userName"`
	UserID      uint   `json:"userId"`
	Tag         string `json:"tag,omitempty"`
	Approved    bool   `json:"approved"`
}

type tagItem struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type uploadModel struct {
	Caption     string    `json:"caption"`
	Description string    `json:"description"`
	DateTaken   string    `json:"dateTaken"`
	TagID       string    `json:"tagId,omitempty"`
	Tags        []tagItem `json:"tags"`
}

type listModel struct {
	UserID uint        `json:"userId"`
	Title  string      `json:"title,omitempty"`
	Images []imageView `json:"images"`
}

type listByUserModel struct {
	Selected uint       `json:"selected"`
	Users    []userItem `json:"users"`
}

type listByTagModel struct {
	Tags []tagItem `json:"tags"`
}

type viewsModel struct {
	Today   bool              `json:"today"`
	Entries []models.LogEntry `json:"entries"`
}

func (h *Handler) toView(img *models.Image) imageView {
	v := imageView{
		ID:          img.ID,
		Caption:     img.Caption,
		Description: img.Description,
		DateTaken:   img.DateTaken.Format(dateLayout),
		URI:         h.Images.URI(img),
		UserName:    img.UserName,
		UserID:      img.UserID,
		Approved:    img.Approved,
	}
	if img.Tag != nil {
		v.Tag = img.Tag.Name
	}
	return v
}

func (h *Handler) toViews(imgs []models.Image) []imageView {
	out := make([]imageView, 0, len(imgs))
	for i := range imgs {
		out = append(out, h.toView(&imgs[i]))
	}
	return out
}

func tagItems(tags []models.Tag) []tagItem {
	out := make([]tagItem, 0, len(tags))
	for _, t := range tags {
		out = append(out, tagItem{ID: t.ID, Name: t.Name})
	}
	return out
}

func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func viewer(r *http.Request) images.Viewer {
	p := principal(r)
	return images.Viewer{ID: p.ID, Approver: p.HasRole(models.RoleApprover)}
}

// routeImage reads the {userId} and {id} path parameters. A malformed user
// id never matches an owner.
func routeImage(r *http.Request) (uint, string) {
	uid, _ := parseUint(chi.URLParam(r, "userId"))
	return uid, chi.URLParam(r, "id")
}

func detailsURL(userID uint, id string) string {
	return fmt.Sprintf("/Images/Details/%d/%s", userID, url.PathEscape(id))
}

func (h *Handler) uploadModel(r *http.Request, form imageForm) uploadModel {
	m := uploadModel{
		Caption:     form.Caption,
		Description: form.Description,
		DateTaken:   form.DateTaken,
		TagID:       form.TagID,
	}
	if tags, err := h.Images.Tags(r.Context()); err == nil {
		m.Tags = tagItems(tags)
	} else {
		h.Log.Warn("failed to load tags", zap.Error(err))
	}
	return m
}

func (h *Handler) UploadForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "Upload", h.uploadModel(r, imageForm{}), "", nil)
}

const (
	uploadPath      = "/Images/Upload"
	multipartMemory = 32 << 20
)

func bodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func (h *Handler) uploadTooLarge(w http.ResponseWriter, r *http.Request) {
	metrics.Upload(apperr.KindValidation.String())
	h.renderForm(w, r, http.StatusRequestEntityTooLarge, "Upload", h.uploadModel(r, imageForm{}),
		"Please correct the errors in the form!",
		map[string]string{"ImageFile": fmt.Sprintf("The image cannot be larger than %d MB.", h.MaxUploadBytes>>20)})
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); bodyTooLarge(err) {
		h.uploadTooLarge(w, r)
		return
	}
	form := parseImage(r)
	model := h.uploadModel(r, form)
	if err := check(form); err != nil {
		metrics.Upload(apperr.KindValidation.String())
		h.fail(w, r, "Upload", model, err)
		return
	}

	var data []byte
	file, _, err := r.FormFile("ImageFile")
	if err == nil {
		data, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			h.fail(w, r, "Upload", model, apperr.Field("ImageFile", "The upload could not be read."))
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		h.fail(w, r, "Upload", model, apperr.Field("ImageFile", "The upload could not be read."))
		return
	}

	p := principal(r)
	img, err := h.Images.Upload(r.Context(), images.Owner{ID: p.ID, UserName: p.UserName}, images.UploadInput{
		Caption:     form.Caption,
		Description: form.Description,
		DateTaken:   form.date(),
		TagID:       form.tag(),
		Data:        data,
	})
	if err != nil {
		metrics.Upload(apperr.KindOf(err).String())
		h.fail(w, r, "Upload", model, err)
		return
	}
	metrics.Upload("ok")
	redirect(w, r, detailsURL(img.UserID, img.ID))
}

func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	uid, id := routeImage(r)
	img, err := h.Images.Details(r.Context(), viewer(r), uid, id)
	if err != nil {
		h.fail(w, r, "Details", nil, err)
		return
	}
	v := h.toView(img)

	p := principal(r)
	if _, err := h.Views.Record(r.Context(), viewlog.Viewer{ID: p.ID, UserName: p.UserName}, img, v.URI); err != nil {
		h.Log.Error("failed to record view", zap.String("image_id", img.ID), zap.Error(err))
	} else {
		metrics.View()
	}
	h.render(w, r, http.StatusOK, "Details", v)
}

// File streams the stored bytes of an image.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	uid, id := routeImage(r)
	obj, err := h.Images.OpenFile(r.Context(), viewer(r), uid, id)
	if err != nil {
		h.fail(w, r, "Details", nil, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.Log.Warn("image stream interrupted", zap.String("image_id", id), zap.Error(err))
	}
}

func (h *Handler) EditForm(w http.ResponseWriter, r *http.Request) {
	uid, id := routeImage(r)
	img, err := h.Images.Owned(r.Context(), images.ActionEdit, principal(r).ID, uid, id)
	if err != nil {
		h.fail(w, r, "Edit", nil, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, "Edit", h.toView(img), "", nil)
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	uid, id := routeImage(r)
	caller := principal(r).ID
	form := parseImage(r)
	if err := check(form); err != nil {
		// ownership is checked before echoing anything back
		if _, oerr := h.Images.Owned(r.Context(), images.ActionEdit, caller, uid, id); oerr != nil {
			h.fail(w, r, "Edit", nil, oerr)
			return
		}
		h.fail(w, r, "Edit", imageView{
			ID:          id,
			UserID:      uid,
			Caption:     form.Caption,
			Description: form.Description,
			DateTaken:   form.DateTaken,
		}, err)
		return
	}

	img, err := h.Images.Edit(r.Context(), caller, uid, id, images.EditInput{
		Caption:     form.Caption,
		Description: form.Description,
		DateTaken:   form.date(),
	})
	if err != nil {
		h.fail(w, r, "Edit", nil, err)
		return
	}
	redirect(w, r, detailsURL(img.UserID, img.ID))
}

func (h *Handler) DeleteForm(w http.ResponseWriter, r *http.Request) {
	uid, id := routeImage(r)
	img, err := h.Images.Owned(r.Context(), images.ActionDelete, principal(r).ID, uid, id)
	if err != nil {
		h.fail(w, r, "Delete", nil, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, "Delete", h.toView(img), "", nil)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, id := routeImage(r)
	if err := h.Images.Delete(r.Context(), principal(r).ID, uid, id); err != nil {
		h.fail(w, r, "Delete", nil, err)
		return
	}
	redirect(w, r, "/")
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	imgs, err := h.Images.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, "ListAll", nil, err)
		return
	}
	h.render(w, r, http.StatusOK, "ListAll", listModel{UserID: principal(r).ID, Images: h.toViews(imgs)})
}

// ListByUser shows the active users to pick from, or with ?Id= the
// visible images of that user.
func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	caller := principal(r).ID
	raw := r.URL.Query().Get("Id")
	if raw == "" {
		us, err := h.Users.ListActive(r.Context())
		if err != nil {
			h.fail(w, r, "ListByUser", nil, err)
			return
		}
		h.render(w, r, http.StatusOK, "ListByUser", listByUserModel{Selected: caller, Users: userItems(us)})
		return
	}

	uid, ok := parseUint(raw)
	if !ok {
		redirectError(w, r, images.ErrIDListByUser)
		return
	}
	u, err := h.Users.Get(r.Context(), uid)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			err = apperr.NotFound(images.ErrIDListByUser)
		}
		h.fail(w, r, "ListByUser", nil, err)
		return
	}
	imgs, err := h.Images.ListByUser(r.Context(), u.ID)
	if err != nil {
		h.fail(w, r, "ListAll", nil, err)
		return
	}
	h.render(w, r, http.StatusOK, "ListAll", listModel{UserID: caller, Title: u.UserName, Images: h.toViews(imgs)})
}

// ListByTag shows the tags to pick from, or with ?Id= the visible images
// of that tag.
func (h *Handler) ListByTag(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("Id")
	if raw == "" {
		tags, err := h.Images.Tags(r.Context())
		if err != nil {
			h.fail(w, r, "ListByTag", nil, err)
			return
		}
		h.render(w, r, http.StatusOK, "ListByTag", listByTagModel{Tags: tagItems(tags)})
		return
	}

	tid, ok := parseUint(raw)
	if !ok {
		redirectError(w, r, images.ErrIDListByTag)
		return
	}
	tag, imgs, err := h.Images.ListByTag(r.Context(), tid)
	if err != nil {
		h.fail(w, r, "ListByTag", nil, err)
		return
	}
	h.render(w, r, http.StatusOK, "ListAll", listModel{UserID: principal(r).ID, Title: tag.Name, Images: h.toViews(imgs)})
}

func (h *Handler) ApproveForm(w http.ResponseWriter, r *http.Request) {
	h.renderApprove(w, r, "")
}

func (h *Handler) renderApprove(w http.ResponseWriter, r *http.Request, message string) {
	imgs, err := h.Images.Pending(r.Context())
	if err != nil {
		h.fail(w, r, "Approve", nil, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, "Approve", listModel{UserID: principal(r).ID, Images: h.toViews(imgs)}, message, nil)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, "Approve", nil, apperr.Validation("malformed form", nil))
		return
	}
	n, err := h.Images.Approve(r.Context(), r.PostForm["id"])
	if err != nil {
		h.fail(w, r, "Approve", nil, err)
		return
	}
	h.renderApprove(w, r, fmt.Sprintf("%d image(s) approved", n))
}

func (h *Handler) ImageViews(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "ImageViews", nil)
}

func (h *Handler) ImageViewsList(w http.ResponseWriter, r *http.Request) {
	today := r.URL.Query().Get("Today") == "true"
	entries, err := viewlog.Collect(h.Views.Entries(r.Context(), today))
	if err != nil {
		h.fail(w, r, "ImageViewsList", nil, apperr.Storage("failed to read the view log", err))
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	h.render(w, r, http.StatusOK, "ImageViewsList", viewsModel{Today: today, Entries: entries})
}
