// Package relay authenticates realtime connections and authorizes their channel
// subscriptions. Delivery itself is fire-and-forget through a domain.Broker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facial-sign-on/internal/domain"
	jwtinfra "github.com/facial-sign-on/internal/infrastructure/jwt"
	"github.com/facial-sign-on/internal/infrastructure/metrics"
	"github.com/facial-sign-on/internal/pkg/token"
)

// Channel classes a client may subscribe to.
const (
	LoginChannel  = "FacialSignOnLoginChannel"
	DeviceChannel = "FacialSignOnDeviceChannel"
)

// Rejection reasons sent back to the browser.
const (
	ReasonMissingToken    = "missing token"
	ReasonMissingClientID = "missing client_id"
	ReasonUnknownToken    = "token expired or not found"
	ReasonSiteMismatch    = "site mismatch"
	ReasonUnknownChannel  = "unknown channel"
)

// Identity is the authenticated state of one relay connection.
type Identity struct {
	ConnectionID  string
	Tenant        domain.Tenant
	Authenticated bool
}

// ConnectParams are the credentials a browser may present when opening the socket.
type ConnectParams struct {
	Token         string
	ChannelPrefix string
}

// SubscribeRequest is one subscribe command.
type SubscribeRequest struct {
	Channel  string
	Token    string
	ClientID string
}

// Grant is an authorized subscription.
type Grant struct {
	Channel string // broker channel name
	Tenant  domain.Tenant
}

// IssuedToken is a minted relay credential.
type IssuedToken struct {
	Token     string
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

// ClientConfig is everything the browser needs to reach the relay. It never carries secrets.
type ClientConfig struct {
	ChannelPrefix string `json:"channel_prefix"`
	RelayURL      string `json:"server_url"`
}

type Service interface {
	Connect(ctx context.Context, p ConnectParams) (*Identity, error)
	Authorize(ctx context.Context, id *Identity, req SubscribeRequest) (*Grant, error)
	Subscribe(ctx context.Context, g *Grant) (domain.Subscription, error)
	IssueToken(ctx context.Context) (*IssuedToken, error)
	Revoke(ctx context.Context, tok string) error
	ClientConfig() ClientConfig
}

type tokenStore interface {
	ByToken(ctx context.Context, tok string) (*domain.VerificationToken, error)
	Revoke(ctx context.Context, tok string, expiresAt time.Time) error
	Revoked(ctx context.Context, tok string) (bool, error)
}

type relayTokens interface {
	Enabled() bool
	Issue(siteID, siteDomain string) (string, time.Time, error)
	Verify(tok string) (*jwtinfra.RelayClaims, error)
}

type authTokenSource interface {
	AuthToken(ctx context.Context) (string, error)
}

type ServiceDeps struct {
	Broker      domain.Broker
	Tokens      tokenStore
	RelayTokens relayTokens
	Vendor      authTokenSource

	LoginPrefix  string
	DevicePrefix string
	RelayURL     string
	SiteID       string
	SiteDomain   string
	// Legacy enables the channel_prefix handshake and lets login subscriptions through
	// for tokens the cache does not know.
	Legacy bool
}

type service struct {
	broker      domain.Broker
	tokens      tokenStore
	relayTokens relayTokens
	vendor      authTokenSource
	cfg         ServiceDeps
	now         func() time.Time
}

func NewService(d ServiceDeps) Service {
	return &service{
		broker:      d.Broker,
		tokens:      d.Tokens,
		relayTokens: d.RelayTokens,
		vendor:      d.Vendor,
		cfg:         d,
		now:         time.Now,
	}
}

// Connect authenticates a new connection. A relay token must verify, carry a site and not
// be revoked; a connection without any credential is anonymous.
func (s *service) Connect(ctx context.Context, p ConnectParams) (*Identity, error) {
	id := &Identity{ConnectionID: uuid.NewString(), Tenant: domain.AnonymousTenant()}

	if p.Token != "" {
		claims, err := s.relayTokens.Verify(p.Token)
		if err != nil {
			slog.Warn("relay: token rejected", "connection_id", id.ConnectionID, "err", err)
			return nil, domain.WrapError(domain.ErrUnauthorized, "Invalid relay token", err)
		}
		if claims.SiteID == "" {
			return nil, domain.NewError(domain.ErrUnauthorized, "Invalid relay token", "relay token has no site_id")
		}
		revoked, err := s.tokens.Revoked(ctx, p.Token)
		if err != nil {
			return nil, fmt.Errorf("check relay revocation: %w", err)
		}
		if revoked {
			return nil, domain.NewError(domain.ErrUnauthorized, "Invalid relay token", "relay token revoked")
		}
		id.Tenant = claims.SiteID.Tenant()
		id.Authenticated = true
		slog.Info("relay: connection authenticated", "connection_id", id.ConnectionID, "site_id", id.Tenant.String())
		return id, nil
	}

	// The prefix handshake grants nothing; it is only logged so legacy clients can be found.
	if p.ChannelPrefix != "" && s.cfg.Legacy {
		slog.Warn("relay: deprecated channel_prefix handshake", "connection_id", id.ConnectionID, "channel_prefix", p.ChannelPrefix)
		return id, nil
	}

	slog.Info("relay: anonymous connection", "connection_id", id.ConnectionID)
	return id, nil
}

// Authorize decides whether id may subscribe to req. Rejections are ErrForbidden with the
// reason as the user message.
func (s *service) Authorize(ctx context.Context, id *Identity, req SubscribeRequest) (*Grant, error) {
	switch req.Channel {
	case LoginChannel:
		return s.authorizeLogin(ctx, id, req)
	case DeviceChannel:
		clientID := strings.TrimSpace(req.ClientID)
		if clientID == "" {
			return nil, s.reject("device", ReasonMissingClientID)
		}
		metrics.RelaySubscriptions.WithLabelValues("device", "confirmed").Inc()
		return &Grant{Channel: s.cfg.DevicePrefix + "_" + clientID, Tenant: id.Tenant}, nil
	default:
		return nil, s.reject("unknown", ReasonUnknownChannel)
	}
}

func (s *service) authorizeLogin(ctx context.Context, id *Identity, req SubscribeRequest) (*Grant, error) {
	tok := strings.TrimSpace(req.Token)
	if tok == "" {
		return nil, s.reject("login", ReasonMissingToken)
	}

	tenant := id.Tenant
	v, err := s.tokens.ByToken(ctx, tok)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !s.cfg.Legacy {
			return nil, s.reject("login", ReasonUnknownToken)
		}
	case err != nil:
		return nil, fmt.Errorf("read verification token: %w", err)
	default:
		if id.Tenant.Conflicts(v.Tenant()) {
			slog.Warn("relay: site mismatch",
				"connection_id", id.ConnectionID,
				"connection_site", id.Tenant.String(),
				"token_site", v.Tenant().String(),
				"token", token.Prefix(tok, 8))
			return nil, s.reject("login", ReasonSiteMismatch)
		}
		if tenant.IsAnonymous() {
			tenant = v.Tenant()
		}
	}

	metrics.RelaySubscriptions.WithLabelValues("login", "confirmed").Inc()
	return &Grant{Channel: s.cfg.LoginPrefix + "_" + tok, Tenant: tenant}, nil
}

func (s *service) reject(kind, reason string) error {
	metrics.RelaySubscriptions.WithLabelValues(kind, "rejected").Inc()
	return domain.NewError(domain.ErrForbidden, reason, "subscription rejected: "+reason)
}

func (s *service) Subscribe(ctx context.Context, g *Grant) (domain.Subscription, error) {
	sub, err := s.broker.Subscribe(ctx, g.Channel)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransient, "Realtime relay unavailable", err)
	}
	return sub, nil
}

// IssueToken mints a relay credential once the vendor credentials have been confirmed.
func (s *service) IssueToken(ctx context.Context) (*IssuedToken, error) {
	if !s.relayTokens.Enabled() || s.cfg.SiteID == "" {
		return nil, domain.NewError(domain.ErrTransient, "Relay authentication is not configured", "no relay signing secret or site id")
	}
	if _, err := s.vendor.AuthToken(ctx); err != nil {
		return nil, fmt.Errorf("confirm vendor credentials: %w", err)
	}
	tok, exp, err := s.relayTokens.Issue(s.cfg.SiteID, s.cfg.SiteDomain)
	if err != nil {
		return nil, fmt.Errorf("issue relay token: %w", err)
	}
	return &IssuedToken{Token: tok, ExpiresIn: exp.Sub(s.now()).Round(time.Second), ExpiresAt: exp}, nil
}

// Revoke blocks tok for the rest of its lifetime. Only valid tokens can be revoked.
func (s *service) Revoke(ctx context.Context, tok string) error {
	claims, err := s.relayTokens.Verify(tok)
	if err != nil {
		return domain.WrapError(domain.ErrUnauthorized, "Invalid relay token", err)
	}
	if err := s.tokens.Revoke(ctx, tok, claims.ExpiresAt.Time); err != nil {
		return err
	}
	slog.Info("relay: token revoked", "jti", claims.ID)
	return nil
}

func (s *service) ClientConfig() ClientConfig {
	return ClientConfig{ChannelPrefix: s.cfg.LoginPrefix, RelayURL: s.cfg.RelayURL}
}
