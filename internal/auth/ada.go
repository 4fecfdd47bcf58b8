package auth

import (
	"net/http"
	"strconv"
	"time"
)

const AdaCookie = "ADA"

// adaLifetime is three months.
const adaLifetime = 90 * 24 * time.Hour

// SetAda writes the accessibility preference cookie. It is essential and
// written regardless of any consent choice.
func SetAda(w http.ResponseWriter, ada bool, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdaCookie,
		Value:    strconv.FormatBool(ada),
		Path:     "/",
		Expires:  time.Now().Add(adaLifetime),
		MaxAge:   int(adaLifetime / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// IsAda reads the preference back; a missing cookie means false.
func IsAda(r *http.Request) bool {
	c, err := r.Cookie(AdaCookie)
	if err != nil {
		return false
	}
	v, _ := strconv.ParseBool(c.Value)
	return v
}
