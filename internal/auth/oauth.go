package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/petermazzocco/go-image-sharing/internal/config"
)

// UseProviders registers the configured external identity providers and
// reports whether any is enabled.
func UseProviders(cfg config.GoogleConfig) bool {
	if !cfg.Enabled() {
		return false
	}
	goth.UseProviders(google.New(cfg.Key, cfg.Secret, cfg.CallbackURL, "email"))
	return true
}

// withProvider copies the {provider} route parameter where gothic looks
// for it.
func withProvider(r *http.Request) *http.Request {
	return gothic.GetContextWithProvider(r, chi.URLParam(r, "provider"))
}

// BeginExternal redirects to the provider's consent page.
func BeginExternal(w http.ResponseWriter, r *http.Request) {
	gothic.BeginAuthHandler(w, withProvider(r))
}

// CompleteExternal finishes the provider round trip and returns the
// confirmed email address.
func CompleteExternal(w http.ResponseWriter, r *http.Request) (string, error) {
	user, err := gothic.CompleteUserAuth(w, withProvider(r))
	if err != nil {
		return "", err
	}
	// drop gothic's own handshake session
	_ = gothic.Logout(w, r)
	return user.Email, nil
}
