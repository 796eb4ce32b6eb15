package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/axiam"
	"github.com/facial-sign-on/internal/infrastructure/metrics"
	"github.com/facial-sign-on/internal/pkg/id"
	"github.com/facial-sign-on/internal/pkg/token"
	"github.com/facial-sign-on/internal/pkg/validate"
)

const msgTokenGone = "Token expired or not found"

// Initiation is the result of a successful push request. PendingID is handed to the
// browser as an opaque cookie; Token stays server-side unless a legacy widget asks for it.
type Initiation struct {
	PendingID string
	Token     string
	SiteID    string
	ExpiresAt time.Time
}

type Service interface {
	Initiate(ctx context.Context, email string) (*Initiation, error)
	Token(ctx context.Context, pendingID string) (tok string, expiresIn time.Duration, err error)
	Lookup(ctx context.Context, email string) (json.RawMessage, error)
	PushByClientID(ctx context.Context, clientID string) (json.RawMessage, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type vendor interface {
	LookupClient(ctx context.Context, email string) (*axiam.Response, error)
	PushNotification(ctx context.Context, clientID string) (*axiam.PushResult, error)
}

type tokenStore interface {
	SaveVerification(ctx context.Context, v *domain.VerificationToken) error
	ByToken(ctx context.Context, tok string) (*domain.VerificationToken, error)
	SavePending(ctx context.Context, pendingID string, p *domain.PendingLogin) error
	Pending(ctx context.Context, pendingID string) (*domain.PendingLogin, error)
	DropPending(ctx context.Context, pendingID string) error
	VerificationTTL() time.Duration
}

type ServiceDeps struct {
	Users  userStore
	Vendor vendor
	Tokens tokenStore
	// SiteID is the configured tenant, used when Axiam does not report one.
	SiteID string
}

type service struct {
	users  userStore
	vendor vendor
	tokens tokenStore
	siteID string
	now    func() time.Time
}

func NewService(d ServiceDeps) Service {
	return &service{
		users:  d.Users,
		vendor: d.Vendor,
		tokens: d.Tokens,
		siteID: d.SiteID,
		now:    time.Now,
	}
}

func (s *service) Initiate(ctx context.Context, email string) (*Initiation, error) {
	email = validate.NormalizeEmail(email)
	if err := validate.Email(email); err != nil {
		return nil, domain.NewError(domain.ErrValidation, userFacing(err), err.Error())
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.LoginInitiations.WithLabelValues("not_found").Inc()
		return nil, domain.NewError(domain.ErrNotFound, "No account with this email.", "no local user for email")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.FacialEnabled() {
		metrics.LoginInitiations.WithLabelValues("not_enabled").Inc()
		return nil, domain.NewError(domain.ErrNotEnabled, "Facial sign-on is not enabled for this account.", "user "+u.UserID+" has no bound client id")
	}

	push, err := s.vendor.PushNotification(ctx, u.ClientID)
	if err != nil {
		metrics.LoginInitiations.WithLabelValues(domain.CodeOf(err)).Inc()
		return nil, fmt.Errorf("push notification: %w", err)
	}

	site := string(push.SiteID)
	if site == "" {
		site = s.siteID
	}
	now := s.now()
	v := &domain.VerificationToken{
		Token:     push.VerificationToken,
		UserID:    u.UserID,
		Email:     email,
		ClientID:  u.ClientID,
		SiteID:    site,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.VerificationTTL()),
	}
	if err := s.tokens.SaveVerification(ctx, v); err != nil {
		return nil, fmt.Errorf("store verification token: %w", err)
	}

	pendingID := id.New()
	if err := s.tokens.SavePending(ctx, pendingID, &domain.PendingLogin{Token: v.Token, Email: email, ExpiresAt: v.ExpiresAt}); err != nil {
		return nil, fmt.Errorf("store pending login: %w", err)
	}

	metrics.LoginInitiations.WithLabelValues("ok").Inc()
	slog.Info("facial login push sent", "user_id", u.UserID, "token", token.Prefix(v.Token, 8), "site_id", site)
	return &Initiation{PendingID: pendingID, Token: v.Token, SiteID: site, ExpiresAt: v.ExpiresAt}, nil
}

// Token returns the verification token of the pending login pendingID. The pending entry
// is dropped once the token it refers to is gone.
func (s *service) Token(ctx context.Context, pendingID string) (string, time.Duration, error) {
	if pendingID == "" || !id.Valid(pendingID) {
		return "", 0, domain.NewError(domain.ErrUnauthorized, msgTokenGone, "no pending login id")
	}
	p, err := s.tokens.Pending(ctx, pendingID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", 0, domain.NewError(domain.ErrUnauthorized, msgTokenGone, "pending login missing or expired")
	}
	if err != nil {
		return "", 0, fmt.Errorf("read pending login: %w", err)
	}

	if _, err := s.tokens.ByToken(ctx, p.Token); err != nil {
		if dropErr := s.tokens.DropPending(ctx, pendingID); dropErr != nil {
			slog.Warn("drop stale pending login failed", "err", dropErr)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return "", 0, domain.NewError(domain.ErrUnauthorized, msgTokenGone, "verification token consumed or expired")
		}
		return "", 0, fmt.Errorf("read verification token: %w", err)
	}

	remaining := p.ExpiresAt.Sub(s.now()).Truncate(time.Second)
	if remaining <= 0 {
		return "", 0, domain.NewError(domain.ErrUnauthorized, msgTokenGone, "pending login expired")
	}
	return p.Token, remaining, nil
}

func (s *service) Lookup(ctx context.Context, email string) (json.RawMessage, error) {
	email = validate.NormalizeEmail(email)
	if err := validate.Email(email); err != nil {
		return nil, domain.NewError(domain.ErrValidation, userFacing(err), err.Error())
	}
	resp, err := s.vendor.LookupClient(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup client: %w", err)
	}
	return resp.Raw, nil
}

// PushByClientID triggers a push for a client the caller already resolved. The token is
// recorded so relay subscriptions for it pass the cache check.
func (s *service) PushByClientID(ctx context.Context, clientID string) (json.RawMessage, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, domain.NewError(domain.ErrValidation, "Client ID is required", "client_id blank")
	}
	push, err := s.vendor.PushNotification(ctx, clientID)
	if err != nil {
		metrics.LoginInitiations.WithLabelValues(domain.CodeOf(err)).Inc()
		return nil, fmt.Errorf("push notification: %w", err)
	}
	site := string(push.SiteID)
	if site == "" {
		site = s.siteID
	}
	if err := s.tokens.SaveVerification(ctx, &domain.VerificationToken{
		Token:    push.VerificationToken,
		ClientID: clientID,
		SiteID:   site,
	}); err != nil {
		return nil, fmt.Errorf("store verification token: %w", err)
	}
	metrics.LoginInitiations.WithLabelValues("ok").Inc()
	return push.Raw, nil
}

// userFacing capitalizes a validation message for display.
func userFacing(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
