package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/facial-sign-on/internal/domain"
)

const maxBodyBytes = 64 << 10

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
	VendorCode int    `json:"vendor_code,omitempty"`
}

// LoginEnvelope answers verified-login and session creation.
type LoginEnvelope struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	Bearer      string       `json:"Bearer,omitempty"`
	User        *domain.User `json:"user,omitempty"`
}

// SessionEnvelope wraps current-session responses.
type SessionEnvelope struct {
	Success bool            `json:"success"`
	Session *domain.Session `json:"session,omitempty"`
}

// PushEnvelope answers a login push. VerificationToken is only filled for legacy widgets.
type PushEnvelope struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	ExpiresIn         int64  `json:"expires_in"`
	SiteID            string `json:"site_id,omitempty"`
	VerificationToken string `json:"verification_token,omitempty"`
}

type TokenEnvelope struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// RelayTokenEnvelope is the GET /auth/token body.
type RelayTokenEnvelope struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	ExpiresAt int64  `json:"expires_at"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw passes a vendor body through unchanged.
func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, Message: msg})
}

// writeDomainError maps err onto a status and the failure envelope. Only the classified
// user message reaches the client; the full error is logged.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := domain.CodeOf(err)
	msg := domain.UserMessage(err, http.StatusText(status))
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	} else {
		slog.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	}
	if code == "internal_error" {
		msg = "Server error. Please try again."
	}
	writeJSON(w, status, MessageEnvelope{
		Error:      msg,
		Message:    msg,
		Code:       code,
		VendorCode: domain.VendorCode(err),
	})
}

func statusFor(err error) int {
	switch domain.CodeOf(err) {
	case "validation_error":
		return http.StatusBadRequest
	case "not_found", "not_enabled":
		return http.StatusNotFound
	case "auth_error", "unauthorized", "replay":
		return http.StatusUnauthorized
	case "forbidden", "identity_mismatch":
		return http.StatusForbidden
	case "rate_limited":
		return http.StatusTooManyRequests
	case "upstream_error":
		return http.StatusBadGateway
	case "transient_network_error":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a bounded JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.WrapError(domain.ErrValidation, "Invalid request body", err)
}
