package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/metrics"
	"github.com/facial-sign-on/internal/pkg/id"
)

const (
	msgMismatch    = "This account is linked to a different facial identity."
	msgUserMissing = "User not found"
	redirectRoot   = "/"
)

type Result struct {
	Bearer      string
	RedirectURL string
	Session     *domain.Session
}

type Service interface {
	Create(ctx context.Context, req VerifiedLogin) (*Result, error)
	Current(ctx context.Context, sessionID string) (*domain.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByClientID(ctx context.Context, clientID string) (*domain.User, error)
	BindClientID(ctx context.Context, userID, clientID string) error
}

type sessionStore interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Disable(ctx context.Context, sessionID string) error
}

type tokenStore interface {
	MarkSessionTokenUsed(ctx context.Context, sessionToken string) error
	Consume(ctx context.Context, tok string) (*domain.VerificationToken, error)
}

type sessionValidator interface {
	ValidateSession(ctx context.Context, sessionToken, clientID string) error
}

type jwtSigner interface {
	Sign(userID, sessionID, clientID string) (string, error)
	Expiry() time.Duration
}

type ServiceDeps struct {
	Users    userStore
	Sessions sessionStore
	Tokens   tokenStore
	Vendor   sessionValidator
	JWT      jwtSigner
	// Legacy keeps the less secure verification path for requests without a session token.
	Legacy          bool
	ValidateSession bool
}

type service struct {
	users    userStore
	sessions sessionStore
	jwt      jwtSigner
	hardened strategy
	legacy   strategy // nil unless enabled
	now      func() time.Time
}

func NewService(d ServiceDeps) Service {
	s := &service{
		users:    d.Users,
		sessions: d.Sessions,
		jwt:      d.JWT,
		hardened: &hardened{tokens: d.Tokens, vendor: d.Vendor, validateSession: d.ValidateSession},
		now:      time.Now,
	}
	if d.Legacy {
		s.legacy = &legacy{users: d.Users}
	}
	return s
}

// pick returns the legacy strategy only when it is enabled and the request carries no
// session token; everything else goes through the hardened one.
func (s *service) pick(req *VerifiedLogin) strategy {
	if req.ClientSessionToken == "" && s.legacy != nil {
		return s.legacy
	}
	return s.hardened
}

func (s *service) Create(ctx context.Context, req VerifiedLogin) (*Result, error) {
	st := s.pick(&req)
	res, err := s.create(ctx, st, &req)
	if err != nil {
		metrics.SessionCreations.WithLabelValues(st.name(), domain.CodeOf(err)).Inc()
		return nil, err
	}
	metrics.SessionCreations.WithLabelValues(st.name(), "ok").Inc()
	return res, nil
}

func (s *service) create(ctx context.Context, st strategy, req *VerifiedLogin) (*Result, error) {
	p, err := st.verify(ctx, req)
	if err != nil {
		return nil, err
	}

	u := p.user
	if u == nil {
		if u, err = s.resolveUser(ctx, p); err != nil {
			return nil, err
		}
	}
	if err := s.bind(ctx, u, p.clientID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &domain.Session{
		SessionID: id.New(),
		UserID:    u.UserID,
		ClientID:  u.ClientID,
		Strategy:  st.name(),
		Enable:    true,
		ExpiresAt: now.Add(s.jwt.Expiry()).Unix(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	bearer, err := s.jwt.Sign(u.UserID, sess.SessionID, u.ClientID)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	sess.User = u

	slog.Info("session: facial login succeeded", "user_id", u.UserID, "session_id", sess.SessionID, "strategy", st.name())
	return &Result{Bearer: bearer, RedirectURL: redirectRoot, Session: sess}, nil
}

// resolveUser prefers the account recorded with a consumed verification token, then
// the email, then the client id.
func (s *service) resolveUser(ctx context.Context, p *proof) (*domain.User, error) {
	var (
		u   *domain.User
		err error
	)
	switch {
	case p.userID != "":
		u, err = s.users.Get(ctx, p.userID)
	case p.email != "":
		u, err = s.users.GetByEmail(ctx, p.email)
	default:
		u, err = s.users.GetByClientID(ctx, p.clientID)
	}
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// bind records clientID on first use. An already bound id must match exactly and is
// never rewritten.
func (s *service) bind(ctx context.Context, u *domain.User, clientID string) error {
	if u.ClientID != "" {
		if u.ClientID != clientID {
			slog.Warn("session: client id mismatch", "user_id", u.UserID)
			return domain.NewError(domain.ErrIdentityMismatch, msgMismatch, "presented client id differs from bound id")
		}
		return nil
	}
	if err := s.users.BindClientID(ctx, u.UserID, clientID); err != nil {
		if errors.Is(err, domain.ErrIdentityMismatch) {
			return domain.WrapError(domain.ErrIdentityMismatch, msgMismatch, err)
		}
		return fmt.Errorf("bind client id: %w", err)
	}
	u.ClientID = clientID
	slog.Info("session: client id bound", "user_id", u.UserID)
	return nil
}

func (s *service) Current(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.ErrUnauthorized, "Session expired", "session not found")
	}
	if err != nil {
		return nil, err
	}
	if !sess.Enable || sess.ExpiresAt <= s.now().Unix() {
		return nil, domain.NewError(domain.ErrUnauthorized, "Session expired", "session disabled or expired")
	}
	u, err := s.users.Get(ctx, sess.UserID)
	if err != nil {
		return nil, notFound(err)
	}
	sess.User = u
	return sess, nil
}

func (s *service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Disable(ctx, sessionID)
}

func notFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.WrapError(domain.ErrNotFound, msgUserMissing, err)
	}
	return fmt.Errorf("lookup user: %w", err)
}
