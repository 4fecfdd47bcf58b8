package auth

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Middleware resolves the session principal into the request context.
// A session whose user no longer exists or was deactivated is cleared and
// the request continues anonymously.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.session(r)
		p, ok := principalFrom(s)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		u, err := m.users.Get(r.Context(), p.ID)
		if err != nil || !u.Active {
			m.log.Info("ending session of unavailable user", zap.Uint("user_id", p.ID))
			if err := m.SignOut(w, r); err != nil {
				m.log.Error("failed to clear session", zap.Error(err))
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireLogin redirects anonymous requests to the login page.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			redirectWithReturn(w, r, "/Account/Login")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits principals holding any of roles. Anonymous requests go
// to the login page, the rest to AccessDenied.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				redirectWithReturn(w, r, "/Account/Login")
				return
			}
			for _, role := range roles {
				if p.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			redirectWithReturn(w, r, "/Account/AccessDenied")
		})
	}
}

func redirectWithReturn(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path+"?ReturnUrl="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
}

// LocalURL returns u when it is a path on this site, otherwise "/".
func LocalURL(u string) string {
	if u == "" || u[0] != '/' || (len(u) > 1 && (u[1] == '/' || u[1] == '\\')) {
		return "/"
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.IsAbs() || parsed.Host != "" {
		return "/"
	}
	return u
}
