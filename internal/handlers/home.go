package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type indexModel struct {
	UserName string `json:"userName"`
}

type errorModel struct {
	RequestID string `json:"requestId"`
	ErrID     string `json:"errId,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("UserName")
	if name == "" {
		name = "Stranger"
	}
	p := h.newPage(r, "Index", nil)
	if p.UserName != "" {
		name = p.UserName
	}
	p.Model = indexModel{UserName: name}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Error(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	h.render(w, r, http.StatusOK, "Error", errorModel{
		RequestID: middleware.GetReqID(r.Context()),
		ErrID:     r.URL.Query().Get("ErrId"),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.Log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
