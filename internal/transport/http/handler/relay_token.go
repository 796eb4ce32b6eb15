package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/facial-sign-on/internal/application/relay"
)

// RelayTokenHandler issues and revokes relay credentials and publishes the public relay
// settings.
type RelayTokenHandler struct {
	svc relay.Service
}

func NewRelayTokenHandler(svc relay.Service) *RelayTokenHandler {
	return &RelayTokenHandler{svc: svc}
}

func (h *RelayTokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.IssueToken(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, RelayTokenEnvelope{
		Token:     tok.Token,
		ExpiresIn: int64(tok.ExpiresIn / time.Second),
		ExpiresAt: tok.ExpiresAt.Unix(),
	})
}

// Revoke takes the token from the Authorization header, or from ?token= for clients that
// cannot set headers.
func (h *RelayTokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tok == "" || tok == r.Header.Get("Authorization") {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := h.svc.Revoke(r.Context(), tok); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: "token revoked"})
}

func (h *RelayTokenHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ClientConfig())
}
