package auth

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/csrf"
)

const (
	CSRFField  = "__RequestVerificationToken"
	CSRFHeader = "X-CSRF-Token"
	CSRFCookie = "imgshare_csrf"
)

// CSRF rejects unsafe requests that do not echo the anti-forgery token
// issued to the browser. onFailure renders the rejection; CSRFFailure
// reports why.
func CSRF(secret string, secure bool, onFailure http.Handler) func(http.Handler) http.Handler {
	// derived so the token cookie and the session cookie never share a key
	key := sha256.Sum256([]byte("csrf:" + secret))
	protect := csrf.Protect(key[:],
		csrf.FieldName(CSRFField),
		csrf.RequestHeader(CSRFHeader),
		csrf.CookieName(CSRFCookie),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.Secure(secure),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(onFailure),
	)
	return func(next http.Handler) http.Handler {
		h := protect(next)
		if secure {
			return h
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

// CSRFToken returns the masked token for a form rendered under CSRF.
func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}

// CSRFFailure returns the reason CSRF rejected r.
func CSRFFailure(r *http.Request) error {
	return csrf.FailureReason(r)
}
