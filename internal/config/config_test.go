package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOGIN_STRATEGY", "")
	t.Setenv("VERIFICATION_TOKEN_TTL", "")
	cfg := Load()
	assert.Equal(t, StrategyHardened, cfg.LoginStrategy)
	assert.False(t, cfg.LegacyLogin())
	assert.Equal(t, 5*time.Minute, cfg.VerificationTokenTTL)
	assert.Equal(t, "facial_sign_on_login", cfg.LoginChannelPrefix)
	assert.True(t, cfg.ValidateSession)
}

func TestLoad_RelaySecretFallsBackToVendorSecret(t *testing.T) {
	t.Setenv("AXIAM_SECRET_KEY", "vendor-secret")
	t.Setenv("RELAY_JWT_SECRET", "")
	assert.Equal(t, "vendor-secret", Load().RelayJWTSecret)
}

func TestGetEnvDuration_AcceptsSecondsAndDurations(t *testing.T) {
	t.Setenv("X_TTL_SECONDS", "90")
	t.Setenv("X_TTL_DURATION", "2m")
	t.Setenv("X_TTL_GARBAGE", "soon")
	assert.Equal(t, 90*time.Second, getEnvDuration("X_TTL_SECONDS", time.Second))
	assert.Equal(t, 2*time.Minute, getEnvDuration("X_TTL_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("X_TTL_GARBAGE", time.Second))
}

func TestLoad_LegacyStrategyIsCaseInsensitive(t *testing.T) {
	t.Setenv("LOGIN_STRATEGY", "Legacy")
	assert.True(t, Load().LegacyLogin())
}
