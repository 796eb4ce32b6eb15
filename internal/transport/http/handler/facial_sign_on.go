package handler

import (
	"net/http"
	"time"

	"github.com/facial-sign-on/internal/application/login"
	"github.com/facial-sign-on/internal/application/session"
)

// FacialSignOnHandler serves the browser login flow.
type FacialSignOnHandler struct {
	login    login.Service
	sessions session.Service
	cookies  Cookies
	// legacy echoes the verification token in the push response for old widgets.
	legacy bool
	now    func() time.Time
}

func NewFacialSignOnHandler(loginSvc login.Service, sessionSvc session.Service, cookies Cookies, legacy bool) *FacialSignOnHandler {
	return &FacialSignOnHandler{login: loginSvc, sessions: sessionSvc, cookies: cookies, legacy: legacy, now: time.Now}
}

// PushNotification starts a login. The token stays server-side behind the pending cookie.
func (h *FacialSignOnHandler) PushNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	started, err := h.login.Initiate(r.Context(), req.Email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ttl := started.ExpiresAt.Sub(h.now())
	h.cookies.set(w, pendingCookie, started.PendingID, ttl)

	resp := PushEnvelope{
		Success:   true,
		Message:   "Push notification sent. Check your device.",
		ExpiresIn: int64(ttl.Round(time.Second) / time.Second),
		SiteID:    started.SiteID,
	}
	if h.legacy {
		resp.VerificationToken = started.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVerificationToken returns the token of this browser's pending login only.
func (h *FacialSignOnHandler) GetVerificationToken(w http.ResponseWriter, r *http.Request) {
	tok, expiresIn, err := h.login.Token(r.Context(), cookieValue(r, pendingCookie))
	if err != nil {
		h.cookies.clear(w, pendingCookie)
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenEnvelope{Success: true, Token: tok, ExpiresIn: int64(expiresIn / time.Second)})
}

// VerifiedLogin finishes a login after the relay reported a verified event.
func (h *FacialSignOnHandler) VerifiedLogin(w http.ResponseWriter, r *http.Request) {
	var req session.VerifiedLogin
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := h.sessions.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.cookies.setSession(w, res.Bearer, time.Unix(res.Session.ExpiresAt, 0).Sub(h.now()))
	h.cookies.clear(w, pendingCookie)
	writeJSON(w, http.StatusOK, LoginEnvelope{
		Success:     true,
		Message:     "Login successful",
		RedirectURL: res.RedirectURL,
		User:        res.Session.User,
	})
}
