package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facial-sign-on/internal/application/signup"
)

const signupCookieTTL = time.Hour

type SignupHandler struct {
	svc     signup.Service
	cookies Cookies
}

func NewSignupHandler(svc signup.Service, cookies Cookies) *SignupHandler {
	return &SignupHandler{svc: svc, cookies: cookies}
}

type signupCreatedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	SiteID  string `json:"site_id,omitempty"`
}

type signupVerifiedResponse struct {
	Success  bool   `json:"success"`
	ClientID string `json:"client_id"`
	QRURL    string `json:"qr_url"`
}

func (h *SignupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req signup.CreateRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	created, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.cookies.set(w, signupCookie, created.SignupID, signupCookieTTL)
	writeJSON(w, http.StatusCreated, signupCreatedResponse{
		Success: true,
		Message: "Account created! Check your email to verify.",
		SiteID:  created.SiteID,
	})
}

// Verify is the target of the emailed link. It must be opened in the browser that started
// the signup.
func (h *SignupHandler) Verify(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.svc.Verify(r.Context(), cookieValue(r, signupCookie), r.URL.Query().Get("token"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signupVerifiedResponse{
		Success:  true,
		ClientID: clientID,
		QRURL:    "/facial_signup/qr/" + clientID,
	})
}

func (h *SignupHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.svc.QRCode(r.Context(), cookieValue(r, signupCookie), chi.URLParam(r, "client_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (h *SignupHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID  string `json:"client_id"`
		FacialURL string `json:"facial_url"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	done, err := h.svc.Complete(r.Context(), cookieValue(r, signupCookie), req.ClientID, req.FacialURL)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.cookies.clear(w, signupCookie)
	writeJSON(w, http.StatusOK, LoginEnvelope{
		Success:     true,
		Message:     "Signup completed successfully",
		RedirectURL: done.RedirectURL,
		User:        done.User,
	})
}
