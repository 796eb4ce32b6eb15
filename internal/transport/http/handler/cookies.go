package handler

import (
	"net/http"
	"time"

	"github.com/facial-sign-on/internal/transport/http/middleware"
)

const (
	pendingCookie = "facial_pending"
	signupCookie  = "facial_signup"
)

// Cookies writes the HttpOnly cookies that tie a browser to server-side state.
type Cookies struct {
	Secure bool
}

func (c Cookies) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Cookies) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Cookies) setSession(w http.ResponseWriter, bearer string, ttl time.Duration) {
	c.set(w, middleware.SessionCookie, bearer, ttl)
}

func cookieValue(r *http.Request, name string) string {
	if ck, err := r.Cookie(name); err == nil {
		return ck.Value
	}
	return ""
}
