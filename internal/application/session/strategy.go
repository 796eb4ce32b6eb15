package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/facial-sign-on/internal/domain"
)

// Strategy names, as recorded on sessions and in metrics.
const (
	StrategyHardened = "hardened"
	StrategyLegacy   = "legacy"
)

// Flag accepts both true and "true".
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case string:
		*f = Flag(strings.EqualFold(t, "true"))
	default:
		*f = false
	}
	return nil
}

// VerificationData is the status payload older widgets post back.
type VerificationData struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

// VerifiedLogin is the body the browser posts after a verified event.
type VerifiedLogin struct {
	ClientSessionToken string            `json:"client_session_token"`
	ClientID           string            `json:"client_id"`
	Email              string            `json:"email"`
	VerificationToken  string            `json:"verification_token"`
	AxiamUID           string            `json:"axiam_uid"`
	Verified           Flag              `json:"verified"`
	Signature          string            `json:"signature"`
	VerificationData   *VerificationData `json:"verification_data"`
	Data               *struct {
		ClientID string `json:"client_id"`
	} `json:"data"`
}

// proof is what a strategy established about the caller.
type proof struct {
	clientID string
	email    string
	userID   string // account recorded with a consumed verification token
	user     *domain.User // set when the strategy already resolved the user
}

type strategy interface {
	name() string
	verify(ctx context.Context, req *VerifiedLogin) (*proof, error)
}

// hardened requires a single-use client_session_token. The replay guard is marked before
// anything else so two concurrent requests cannot both pass.
type hardened struct {
	tokens          tokenStore
	vendor          sessionValidator
	validateSession bool
}

func (h *hardened) name() string { return StrategyHardened }

func (h *hardened) verify(ctx context.Context, req *VerifiedLogin) (*proof, error) {
	cst := strings.TrimSpace(req.ClientSessionToken)
	clientID := strings.TrimSpace(req.ClientID)
	if cst == "" || clientID == "" {
		return nil, domain.NewError(domain.ErrValidation, "Verification is incomplete. Please try again.", "client_session_token and client_id are required")
	}

	if err := h.tokens.MarkSessionTokenUsed(ctx, cst); err != nil {
		return nil, err
	}

	p := &proof{clientID: clientID, email: strings.ToLower(strings.TrimSpace(req.Email))}

	if tok := strings.TrimSpace(req.VerificationToken); tok != "" {
		v, err := h.tokens.Consume(ctx, tok)
		if err != nil {
			return nil, err
		}
		if v.ClientID != "" && v.ClientID != clientID {
			return nil, domain.NewError(domain.ErrIdentityMismatch, msgMismatch, "verification token issued for another client id")
		}
		// The token names the account the push was sent for; the body cannot redirect it.
		if p.email != "" && v.Email != "" && p.email != v.Email {
			return nil, domain.NewError(domain.ErrIdentityMismatch, msgMismatch, "verification token issued for another email")
		}
		p.userID = v.UserID
		if v.Email != "" {
			p.email = v.Email
		}
	}

	if h.validateSession {
		if err := h.vendor.ValidateSession(ctx, cst, clientID); err != nil {
			return nil, fmt.Errorf("validate session: %w", err)
		}
	}
	return p, nil
}

// legacy accepts the looser proofs older widgets send: a verified flag, a signature, a
// verification token or a verified status payload. It is less secure and only reachable
// when LOGIN_STRATEGY=legacy.
type legacy struct {
	users userStore
}

func (l *legacy) name() string { return StrategyLegacy }

func (l *legacy) verify(ctx context.Context, req *VerifiedLogin) (*proof, error) {
	hasProof := bool(req.Verified) ||
		req.Signature != "" ||
		req.VerificationToken != "" ||
		(req.VerificationData != nil && req.VerificationData.Status == "verified")
	if !hasProof {
		return nil, domain.NewError(domain.ErrForbidden, "Verification required", "legacy login without verification proof")
	}
	slog.Warn("session: legacy verification path used")

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != "" && req.ClientID == "" {
		u, err := l.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, notFound(err)
		}
		if u.ClientID == "" {
			return nil, domain.NewError(domain.ErrValidation, "No client ID provided", "legacy login for user without bound client id")
		}
		return &proof{clientID: u.ClientID, email: email, user: u}, nil
	}

	clientID := firstNonEmpty(req.ClientID, req.AxiamUID)
	if clientID == "" && req.VerificationData != nil {
		clientID = req.VerificationData.ClientID
	}
	if clientID == "" && req.Data != nil {
		clientID = req.Data.ClientID
	}
	if clientID == "" {
		return nil, domain.NewError(domain.ErrValidation, "No client ID provided", "legacy login without client id")
	}
	return &proof{clientID: clientID}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
