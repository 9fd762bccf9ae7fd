// Package cookies manages the refreshToken session cookie shared by the
// auth handlers.
package cookies

import (
	"net/http"
	"time"
)

const Name = "refreshToken"

// Set writes the session cookie: http-only, secure and cross-site, since
// the admin UI is served from a different origin than the API.
func Set(w http.ResponseWriter, tokenStr string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     Name,
		Value:    tokenStr,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// Read returns the presented refresh token, or "" when the cookie is absent.
func Read(r *http.Request) string {
	c, err := r.Cookie(Name)
	if err != nil {
		return ""
	}
	return c.Value
}
