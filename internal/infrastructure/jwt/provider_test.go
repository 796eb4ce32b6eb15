package jwtinfra

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facial-sign-on/internal/domain"
)

func TestProvider_SignVerifyRoundTrip(t *testing.T) {
	p, err := NewEphemeralProvider(time.Hour)
	require.NoError(t, err)

	tok, err := p.Sign("user-1", "sess-1", "cid_1")
	require.NoError(t, err)

	claims, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "cid_1", claims.ClientID)
}

func TestProvider_RejectsForeignKey(t *testing.T) {
	a, err := NewEphemeralProvider(time.Hour)
	require.NoError(t, err)
	b, err := NewEphemeralProvider(time.Hour)
	require.NoError(t, err)

	tok, err := a.Sign("user-1", "sess-1", "cid_1")
	require.NoError(t, err)
	_, err = b.Verify(tok)
	assert.Error(t, err)
}

func TestRelayTokens_IssueVerify(t *testing.T) {
	r := NewRelayTokens("relay-secret", time.Hour)

	tok, exp, err := r.Issue("42", "example.test")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := r.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.SiteID("42"), claims.SiteID)
	assert.NotEmpty(t, claims.ID)
}

func TestRelayTokens_NumericSiteID(t *testing.T) {
	secret := "relay-secret"
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"site_id": 42,
		"exp":     time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	claims, err := NewRelayTokens(secret, time.Hour).Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.SiteID("42"), claims.SiteID)
}

func TestRelayTokens_RequiresExp(t *testing.T) {
	secret := "relay-secret"
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"site_id": "1"}).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = NewRelayTokens(secret, time.Hour).Verify(raw)
	assert.Error(t, err)
}

func TestRelayTokens_Expired(t *testing.T) {
	r := NewRelayTokens("relay-secret", time.Minute)
	tok, _, err := r.Issue("1", "")
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = r.Verify(tok)
	assert.Error(t, err)
}

func TestRelayTokens_WrongSecret(t *testing.T) {
	tok, _, err := NewRelayTokens("a", time.Hour).Issue("1", "")
	require.NoError(t, err)
	_, err = NewRelayTokens("b", time.Hour).Verify(tok)
	assert.Error(t, err)
}

func TestRelayTokens_Disabled(t *testing.T) {
	r := NewRelayTokens("", time.Hour)
	assert.False(t, r.Enabled())
	_, _, err := r.Issue("1", "")
	assert.ErrorIs(t, err, ErrRelayDisabled)
}
