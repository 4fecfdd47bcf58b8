package handlers

import (
	"net/http"

	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/metrics"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
)

type userItem struct {
	ID       uint   `json:"id"`
	UserName string `json:"userName"`
	Active   bool   `json:"active"`
}

type manageModel struct {
	Users []userItem `json:"users"`
}

func userItems(us []models.User) []userItem {
	items := make([]userItem, 0, len(us))
	for _, u := range us {
		items = append(items, userItem{ID: u.ID, UserName: u.UserName, Active: u.Active})
	}
	return items
}

func (h *Handler) ManageForm(w http.ResponseWriter, r *http.Request) {
	us, err := h.Users.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, "Manage", nil, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, "Manage", manageModel{Users: userItems(us)}, "", nil)
}

// Manage applies the posted checkboxes. "user" lists every user shown on
// the form and "active" the ones left checked.
func (h *Handler) Manage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, "Manage", nil, apperr.Validation("malformed form", nil))
		return
	}
	checked := map[uint]bool{}
	for _, v := range r.PostForm["active"] {
		if id, ok := parseUint(v); ok {
			checked[id] = true
		}
	}
	desired := map[uint]bool{}
	for _, v := range r.PostForm["user"] {
		id, ok := parseUint(v)
		if !ok {
			h.fail(w, r, "Manage", nil, apperr.Field("user", "Unknown user id "+v))
			return
		}
		desired[id] = checked[id]
	}

	res, err := h.Users.Manage(r.Context(), desired)
	if err != nil {
		h.fail(w, r, "Manage", nil, err)
		return
	}
	metrics.Deactivated(res.Deactivated)
	h.Log.Info("users managed",
		zap.Int("deactivated", res.Deactivated),
		zap.Int("reactivated", res.Reactivated),
		zap.Int("images_removed", res.ImagesRemoved))

	us, err := h.Users.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, "Manage", nil, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, "Manage", manageModel{Users: userItems(us)},
		"Users successfully deactivated/reactivated", nil)
}

func (h *Handler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	auth.BeginExternal(w, r)
}

// ExternalCallback signs in the existing active account whose email the
// provider confirmed. Unknown emails are not registered.
func (h *Handler) ExternalCallback(w http.ResponseWriter, r *http.Request) {
	email, err := auth.CompleteExternal(w, r)
	if err != nil {
		h.Log.Warn("external sign-in failed", zap.Error(err))
		h.fail(w, r, "Login", loginModel{}, apperr.Auth(apperr.MsgLoginFailed))
		return
	}
	u, err := h.Users.AuthenticateExternal(r.Context(), email)
	if err != nil {
		h.fail(w, r, "Login", loginModel{UserName: email}, err)
		return
	}
	h.completeLogin(w, r, u, false, "/")
}
