package domain

import "time"

// VerificationToken is a pending facial verification attempt. It is stored twice in the
// token cache (by token and by email) and consumed by the first successful session creation.
type VerificationToken struct {
	Token     string    `json:"verification_token"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	ClientID  string    `json:"client_id"`
	SiteID    string    `json:"site_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Tenant returns the site the token was issued for.
func (v *VerificationToken) Tenant() Tenant { return SiteTenant(v.SiteID) }

// Expired reports whether the token's TTL has elapsed at now.
func (v *VerificationToken) Expired(now time.Time) bool { return !now.Before(v.ExpiresAt) }

// PendingLogin is the server-side half of a browser's login attempt. The browser only
// holds the opaque pending id in a cookie.
type PendingLogin struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthToken is the vendor-issued bearer used for server-to-server calls.
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignupState tracks one facial signup between the create, verify, qr and complete steps.
type SignupState struct {
	ClientID          string    `json:"client_id"`
	SiteID            string    `json:"site_id,omitempty"`
	Email             string    `json:"email"`
	FullName          string    `json:"full_name"`
	VerificationToken string    `json:"verification_token,omitempty"`
	TokenExpiresAt    time.Time `json:"token_expires_at"`
	EmailVerified     bool      `json:"email_verified"`
}
