package handler

import (
	"net/http"

	"github.com/facial-sign-on/internal/application/login"
)

// APIFacialSignOnHandler exposes vendor lookup and push for API clients that manage the
// login state themselves. Successful vendor bodies are passed through unchanged.
type APIFacialSignOnHandler struct {
	login login.Service
}

func NewAPIFacialSignOnHandler(svc login.Service) *APIFacialSignOnHandler {
	return &APIFacialSignOnHandler{login: svc}
}

func (h *APIFacialSignOnHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	raw, err := h.login.Lookup(r.Context(), req.Email)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (h *APIFacialSignOnHandler) PushNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
		ID       string `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = req.ID
	}
	raw, err := h.login.PushByClientID(r.Context(), clientID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}
