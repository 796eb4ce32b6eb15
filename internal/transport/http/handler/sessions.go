package handler

import (
	"net/http"
	"time"

	"github.com/facial-sign-on/internal/application/session"
	"github.com/facial-sign-on/internal/transport/http/middleware"
)

// SessionHandler handles the API session endpoints.
type SessionHandler struct {
	svc     session.Service
	cookies Cookies
}

func NewSessionHandler(svc session.Service, cookies Cookies) *SessionHandler {
	return &SessionHandler{svc: svc, cookies: cookies}
}

// Create is verified login for API clients; the bearer is returned in the body as well.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req session.VerifiedLogin
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.cookies.setSession(w, res.Bearer, time.Until(time.Unix(res.Session.ExpiresAt, 0)))
	writeJSON(w, http.StatusOK, LoginEnvelope{
		Success:     true,
		Message:     "Login successful",
		RedirectURL: res.RedirectURL,
		Bearer:      res.Bearer,
		User:        res.Session.User,
	})
}

func (h *SessionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sess, err := h.svc.Current(r.Context(), claims.SessionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionEnvelope{Success: true, Session: sess})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Logout(r.Context(), claims.SessionID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.cookies.clear(w, middleware.SessionCookie)
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: "logged out"})
}
