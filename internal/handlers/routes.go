package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/logging"
	"github.com/petermazzocco/go-image-sharing/internal/metrics"
	"github.com/petermazzocco/go-image-sharing/models"
)

type RouterOptions struct {
	// RateLimit requests per RateWindow for login, register and upload
	// posts, keyed by client address and endpoint. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// ExternalLogin mounts the /auth/{provider} routes.
	ExternalLogin bool
	// CSRFSecret keys the anti-forgery cookie.
	CSRFSecret string
}

const defaultMaxUpload = 10 << 20

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if h.MaxUploadBytes <= 0 {
		h.MaxUploadBytes = defaultMaxUpload
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	limited := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		limited = httprate.Limit(
			opts.RateLimit,
			opts.RateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		)
	}

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(h.MaxUploadBytes))
		r.Use(h.Auth.Middleware)
		r.Use(auth.CSRF(opts.CSRFSecret, h.SecureCookies, http.HandlerFunc(h.csrfFailed)))

		r.Get("/", h.Index)
		r.Get("/Home/Error", h.Error)

		if opts.ExternalLogin {
			r.Get("/auth/{provider}", h.ExternalLogin)
			r.Get("/auth/{provider}/callback", h.ExternalCallback)
		}

		r.Route("/Account", func(r chi.Router) {
			r.Get("/Register", h.RegisterForm)
			r.Get("/Login", h.LoginForm)
			r.Get("/AccessDenied", h.AccessDenied)
			r.With(limited).Post("/Register", h.Register)
			r.With(limited).Post("/Login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireLogin)
				r.Get("/Logout", h.LogoutForm)
				r.Post("/Logout", h.Logout)
				r.Get("/Password", h.PasswordForm)
				r.Post("/Password", h.Password)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/Manage", h.ManageForm)
				r.Post("/Manage", h.Manage)
			})
		})

		r.Route("/Images", func(r chi.Router) {
			r.Use(auth.RequireLogin)

			r.Get("/ListAll", h.ListAll)
			r.Get("/ListByUser", h.ListByUser)
			r.Get("/ListByTag", h.ListByTag)
			r.Get("/Details/{userId}/{id}", h.Details)
			r.Get("/File/{userId}/{id}", h.File)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleUser))
				r.Get("/Upload", h.UploadForm)
				r.With(limited).Post("/Upload", h.Upload)
				r.Get("/Edit/{userId}/{id}", h.EditForm)
				r.Post("/Edit/{userId}/{id}", h.Edit)
				r.Get("/Delete/{userId}/{id}", h.DeleteForm)
				r.Post("/Delete/{userId}/{id}", h.Delete)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleApprover))
				r.Get("/Approve", h.ApproveForm)
				r.Post("/Approve", h.Approve)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleSupervisor))
				r.Get("/ImageViews", h.ImageViews)
				r.Get("/ImageViewsList", h.ImageViewsList)
			})
		})
	})

	return r
}
