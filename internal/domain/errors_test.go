package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("redeem: %w", NewError(ErrReplay, "Session token has already been used", "client_session_token reused"))
	assert.True(t, errors.Is(err, ErrReplay))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "replay", CodeOf(err))
	assert.Equal(t, "Session token has already been used", UserMessage(err, "fallback"))
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := WrapError(ErrTransient, "Please try again.", cause)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "i/o timeout")
}

func TestError_CodeOfPrefersOwnKind(t *testing.T) {
	inner := NewError(ErrAuth, "", "token rejected")
	outer := WrapError(ErrUpstream, "Server error", inner)
	assert.Equal(t, "upstream_error", CodeOf(outer))
}

func TestUserMessage_Fallback(t *testing.T) {
	assert.Equal(t, "Server error", UserMessage(errors.New("boom"), "Server error"))
	assert.Equal(t, "internal_error", CodeOf(errors.New("boom")))
}

func TestVendorCode(t *testing.T) {
	err := &Error{Kind: ErrRateLimited, VendorCode: 1020}
	assert.Equal(t, 1020, VendorCode(fmt.Errorf("push: %w", err)))
	assert.Contains(t, err.Error(), "vendor code 1020")
}

func TestTenant_Conflicts(t *testing.T) {
	assert.True(t, SiteTenant("12").Conflicts(SiteTenant("13")))
	assert.False(t, SiteTenant("12").Conflicts(SiteTenant("12")))
	assert.False(t, AnonymousTenant().Conflicts(SiteTenant("13")))
	assert.False(t, SiteTenant("12").Conflicts(AnonymousTenant()))
	assert.Equal(t, "anonymous", AnonymousTenant().String())
}

func TestSiteID_AcceptsNumberAndString(t *testing.T) {
	var v struct {
		A SiteID `json:"a"`
		B SiteID `json:"b"`
		C SiteID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":42,"b":"42","c":null}`), &v))
	assert.Equal(t, SiteID("42"), v.A)
	assert.Equal(t, SiteID("42"), v.B)
	assert.True(t, v.C.Tenant().IsAnonymous())
	assert.False(t, v.A.Tenant().Conflicts(v.B.Tenant()))
}
