package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/facial-sign-on/internal/domain"
)

// ErrRelayDisabled is returned when no relay signing secret is configured.
var ErrRelayDisabled = errors.New("relay tokens not configured")

// RelayClaims is the payload of a relay connection token. SiteID names the tenant the
// holder may subscribe for.
type RelayClaims struct {
	SiteID domain.SiteID `json:"site_id"`
	Domain string        `json:"domain,omitempty"`
	jwt.RegisteredClaims
}

// RelayTokens issues and verifies short-lived HS256 tokens for the realtime relay.
type RelayTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewRelayTokens(secret string, ttl time.Duration) *RelayTokens {
	return &RelayTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (r *RelayTokens) Enabled() bool { return len(r.secret) > 0 }

// Issue mints a token for siteID. The jti lets a single token be revoked.
func (r *RelayTokens) Issue(siteID, siteDomain string) (string, time.Time, error) {
	if !r.Enabled() {
		return "", time.Time{}, ErrRelayDisabled
	}
	now := r.now()
	exp := now.Add(r.ttl)
	claims := RelayClaims{
		SiteID: domain.SiteID(siteID),
		Domain: siteDomain,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign relay token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm and a mandatory exp claim.
func (r *RelayTokens) Verify(tokenStr string) (*RelayClaims, error) {
	if !r.Enabled() {
		return nil, ErrRelayDisabled
	}
	token, err := jwt.ParseWithClaims(tokenStr, &RelayClaims{}, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*RelayClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid relay token claims")
	}
	return claims, nil
}
