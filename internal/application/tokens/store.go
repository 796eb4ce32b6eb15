// Package tokens keeps the short-lived login state in the shared cache: verification
// tokens, session replay guards, pending browser logins, signup state and revoked relay
// tokens. Every entry expires by TTL.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/pkg/token"
)

const (
	prefixToken    = "facial_token:"
	prefixEmail    = "facial_email:"
	prefixReplay   = "client_session_token:"
	prefixPending  = "facial_pending:"
	prefixSignup   = "facial_signup:"
	prefixRevoked  = "jwt_revocation:"
	revokedMarker  = "1"
	usedMarker     = "used"
	minRevokeTTL   = time.Second
	logTokenPrefix = 8
)

// TTLs configures entry lifetimes.
type TTLs struct {
	Verification time.Duration
	ReplayGuard  time.Duration
	Signup       time.Duration
}

// Store is a typed view over a domain.Cache.
type Store struct {
	cache domain.Cache
	ttl   TTLs
	now   func() time.Time
}

func NewStore(cache domain.Cache, ttl TTLs) *Store {
	return &Store{cache: cache, ttl: ttl, now: time.Now}
}

// VerificationTTL is the lifetime given to new verification tokens.
func (s *Store) VerificationTTL() time.Duration { return s.ttl.Verification }

// SaveVerification writes v under both its token and its email. CreatedAt and
// ExpiresAt are filled in when zero.
func (s *Store) SaveVerification(ctx context.Context, v *domain.VerificationToken) error {
	now := s.now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.ExpiresAt.IsZero() {
		v.ExpiresAt = now.Add(s.ttl.Verification)
	}
	ttl := v.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return fmt.Errorf("save verification token: already expired")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verification token: %w", err)
	}
	if err := s.cache.Set(ctx, prefixToken+v.Token, b, ttl); err != nil {
		return fmt.Errorf("save verification token: %w", err)
	}
	if v.Email != "" {
		if err := s.cache.Set(ctx, prefixEmail+v.Email, b, ttl); err != nil {
			return fmt.Errorf("save verification token by email: %w", err)
		}
	}
	return nil
}

// ByToken returns the live entry for tok or ErrNotFound.
func (s *Store) ByToken(ctx context.Context, tok string) (*domain.VerificationToken, error) {
	return s.getVerification(ctx, prefixToken+tok)
}

// ByEmail returns the live entry recorded for email or ErrNotFound.
func (s *Store) ByEmail(ctx context.Context, email string) (*domain.VerificationToken, error) {
	return s.getVerification(ctx, prefixEmail+email)
}

func (s *Store) getVerification(ctx context.Context, key string) (*domain.VerificationToken, error) {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read verification token: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("verification token: %w", domain.ErrNotFound)
	}
	var v domain.VerificationToken
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode verification token: %w", err)
	}
	if v.Expired(s.now()) {
		return nil, fmt.Errorf("verification token expired: %w", domain.ErrNotFound)
	}
	return &v, nil
}

// Consume atomically removes tok so it can be redeemed only once. A token that is
// absent (already redeemed or expired) is a replay.
func (s *Store) Consume(ctx context.Context, tok string) (*domain.VerificationToken, error) {
	b, ok, err := s.cache.Take(ctx, prefixToken+tok)
	if err != nil {
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	if !ok {
		return nil, domain.NewError(domain.ErrReplay, "This verification has already been used or has expired.", "verification token "+token.Prefix(tok, logTokenPrefix)+" not in cache")
	}
	var v domain.VerificationToken
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode verification token: %w", err)
	}
	if v.Expired(s.now()) {
		return nil, domain.NewError(domain.ErrReplay, "This verification has already been used or has expired.", "verification token expired")
	}
	if v.Email != "" {
		s.dropEmailEntry(ctx, v.Email, tok)
	}
	return &v, nil
}

// dropEmailEntry removes the by-email entry only while it still refers to tok, so a
// newer login for the same email is left alone.
func (s *Store) dropEmailEntry(ctx context.Context, email, tok string) {
	cur, err := s.ByEmail(ctx, email)
	if err != nil || cur.Token != tok {
		return
	}
	if err := s.cache.Delete(ctx, prefixEmail+email); err != nil {
		slog.Warn("tokens: drop email entry failed", "err", err)
	}
}

// MarkSessionTokenUsed records a client_session_token as spent. Only the first caller
// for a given value succeeds; every later one gets ErrReplay. The raw value is hashed
// before it is used as a key.
func (s *Store) MarkSessionTokenUsed(ctx context.Context, sessionToken string) error {
	ok, err := s.cache.SetNX(ctx, prefixReplay+token.Hash(sessionToken), []byte(usedMarker), s.ttl.ReplayGuard)
	if err != nil {
		return fmt.Errorf("mark session token: %w", err)
	}
	if !ok {
		return domain.NewError(domain.ErrReplay, "This verification has already been used.", "client_session_token replayed")
	}
	return nil
}

// SavePending stores the server half of a browser login under pendingID.
func (s *Store) SavePending(ctx context.Context, pendingID string, p *domain.PendingLogin) error {
	ttl := p.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("save pending login: already expired")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending login: %w", err)
	}
	if err := s.cache.Set(ctx, prefixPending+pendingID, b, ttl); err != nil {
		return fmt.Errorf("save pending login: %w", err)
	}
	return nil
}

// Pending returns the live pending login for pendingID or ErrNotFound.
func (s *Store) Pending(ctx context.Context, pendingID string) (*domain.PendingLogin, error) {
	b, ok, err := s.cache.Get(ctx, prefixPending+pendingID)
	if err != nil {
		return nil, fmt.Errorf("read pending login: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("pending login: %w", domain.ErrNotFound)
	}
	var p domain.PendingLogin
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode pending login: %w", err)
	}
	if !s.now().Before(p.ExpiresAt) {
		return nil, fmt.Errorf("pending login expired: %w", domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) DropPending(ctx context.Context, pendingID string) error {
	return s.cache.Delete(ctx, prefixPending+pendingID)
}

// SaveSignup stores signup state under signupID for the configured signup TTL.
func (s *Store) SaveSignup(ctx context.Context, signupID string, st *domain.SignupState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal signup state: %w", err)
	}
	if err := s.cache.Set(ctx, prefixSignup+signupID, b, s.ttl.Signup); err != nil {
		return fmt.Errorf("save signup state: %w", err)
	}
	return nil
}

// Signup returns the signup state for signupID or ErrNotFound.
func (s *Store) Signup(ctx context.Context, signupID string) (*domain.SignupState, error) {
	b, ok, err := s.cache.Get(ctx, prefixSignup+signupID)
	if err != nil {
		return nil, fmt.Errorf("read signup state: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("signup state: %w", domain.ErrNotFound)
	}
	var st domain.SignupState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode signup state: %w", err)
	}
	return &st, nil
}

func (s *Store) DropSignup(ctx context.Context, signupID string) error {
	return s.cache.Delete(ctx, prefixSignup+signupID)
}

// Revoke blocks the relay token tok until it would have expired anyway.
func (s *Store) Revoke(ctx context.Context, tok string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl < minRevokeTTL {
		ttl = minRevokeTTL
	}
	if err := s.cache.Set(ctx, prefixRevoked+token.Hash(tok), []byte(revokedMarker), ttl); err != nil {
		return fmt.Errorf("revoke relay token: %w", err)
	}
	return nil
}

// Revoked reports whether tok has been revoked.
func (s *Store) Revoked(ctx context.Context, tok string) (bool, error) {
	_, ok, err := s.cache.Get(ctx, prefixRevoked+token.Hash(tok))
	if err != nil {
		return false, fmt.Errorf("check relay revocation: %w", err)
	}
	return ok, nil
}
