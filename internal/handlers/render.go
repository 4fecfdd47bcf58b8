package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"go.uber.org/zap"
)

// page is the document every view renders: the view name, the
// accessibility flag and the view's model.
type page struct {
	View      string            `json:"view"`
	IsAda     bool              `json:"isAda"`
	UserName  string            `json:"userName,omitempty"`
	CSRFToken string            `json:"csrfToken,omitempty"`
	Message   string            `json:"message,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Model     any               `json:"model,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) newPage(r *http.Request, view string, model any) *page {
	p := &page{View: view, IsAda: auth.IsAda(r), Model: model}
	if pr, ok := auth.FromContext(r.Context()); ok {
		p.UserName = pr.UserName
	}
	return p
}

// render writes a read-only view.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, view string, model any) {
	writeJSON(w, status, h.newPage(r, view, model))
}

// renderForm writes a view that posts back and so carries the
// anti-forgery token.
func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, view string, model any, message string, errs map[string]string) {
	p := h.newPage(r, view, model)
	p.Message = message
	p.Errors = errs
	p.CSRFToken = auth.CSRFToken(r)
	writeJSON(w, status, p)
}

// csrfFailed answers requests rejected by the anti-forgery check. A body
// cut off by the size limit never delivered its token, so it is reported
// as too large instead.
func (h *Handler) csrfFailed(w http.ResponseWriter, r *http.Request) {
	if bodyTooLarge(r.ParseMultipartForm(multipartMemory)) {
		if r.URL.Path == uploadPath {
			h.uploadTooLarge(w, r)
			return
		}
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	h.Log.Info("anti-forgery check failed",
		zap.String("path", r.URL.Path),
		zap.NamedError("reason", auth.CSRFFailure(r)))
	http.Error(w, "invalid anti-forgery token", http.StatusBadRequest)
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func redirectError(w http.ResponseWriter, r *http.Request, errID string) {
	redirect(w, r, "/Home/Error?ErrId="+url.QueryEscape(errID))
}

// fail maps err onto a response. Form errors redisplay view with model.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, view string, model any, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err, "unexpected error")
	}
	switch e.Kind {
	case apperr.KindValidation:
		h.renderForm(w, r, http.StatusUnprocessableEntity, view, model, "Please correct the errors in the form!", e.Fields)
	case apperr.KindAuth:
		h.renderForm(w, r, http.StatusUnauthorized, view, model, e.Message, nil)
	case apperr.KindAuthorization, apperr.KindNotFound:
		h.Log.Info("request refused",
			zap.String("err_id", e.ErrID),
			zap.String("kind", e.Kind.String()),
			zap.String("path", r.URL.Path))
		redirectError(w, r, e.ErrID)
	default:
		h.Log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		h.render(w, r, http.StatusInternalServerError, "Error", errorModel{
			RequestID: middleware.GetReqID(r.Context()),
			Message:   e.Message,
		})
	}
}
