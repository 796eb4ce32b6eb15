// Package axiam is the server-to-server client for the Axiam facial sign-on API.
package axiam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/metrics"
)

const (
	authPath            = "/api/v1/facial_sign_on/application_auth"
	lookupPath          = "/api/v1/facial_sign_on/login/lookup_client"
	pushPath            = "/api/v1/facial_sign_on/login/push_notification"
	validateSessionPath = "/api/v1/facial_sign_on/login/validate_session"
	createClientPath    = "/api/v1/facial_sign_on/client/create"
	qrCodePath          = "/api/v1/facial_sign_on/client/qrcode"

	defaultTokenLifetime = 30 * 24 * time.Hour
	refreshMargin        = 5 * time.Minute
	maxBody              = 1 << 20
)

// Config holds the credentials and endpoint of one Axiam site.
type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Domain    string
	Timeout   time.Duration
}

// Client calls the Axiam API with a cached application bearer token. A 401 or 403 from
// any call triggers exactly one forced token refresh and one retry.
type Client struct {
	cfg   Config
	http  *http.Client
	cache domain.Cache
	group singleflight.Group
	now   func() time.Time
}

// NewClient builds a Client that keeps its bearer token in cache.
func NewClient(cfg Config, cache domain.Cache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: timeout},
		cache: cache,
		now:   time.Now,
	}
}

// Response is the common Axiam envelope. Raw holds the body exactly as received so
// handlers can pass it through.
type Response struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message,omitempty"`
	UserMessage string          `json:"user_message,omitempty"`
	Code        int             `json:"code,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// PushResult is the outcome of a login push notification.
type PushResult struct {
	VerificationToken string          `json:"verification_token"`
	SiteID            domain.SiteID   `json:"site_id"`
	Raw               json.RawMessage `json:"-"`
}

// ClientRecord identifies a client created at Axiam during signup.
type ClientRecord struct {
	ClientID string        `json:"client_id"`
	SiteID   domain.SiteID `json:"site_id"`
}

func (c *Client) tokenKey() string { return "axiam_authenticated_token_" + c.cfg.Domain }

// AuthToken returns the cached application bearer, fetching a new one when the cache is
// empty or the cached token is inside its refresh margin.
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(ctx, ""); ok {
		return tok, nil
	}
	return c.refresh(ctx, "", false)
}

// Refresh fetches a new bearer unconditionally and replaces the cached one.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, "", true)
}

// refresh fetches a new bearer under a single-flight guard. Unless forced, a live cached
// token other than stale means another caller already refreshed, and it is reused.
func (c *Client) refresh(ctx context.Context, stale string, force bool) (string, error) {
	v, err, _ := c.group.Do("auth", func() (interface{}, error) {
		if !force {
			if tok, ok := c.cachedToken(ctx, stale); ok {
				return tok, nil
			}
		}
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken(ctx context.Context, stale string) (string, bool) {
	b, ok, err := c.cache.Get(ctx, c.tokenKey())
	if err != nil {
		slog.Warn("axiam: auth token cache read failed", "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	var t domain.AuthToken
	if json.Unmarshal(b, &t) != nil || t.Token == "" || t.Token == stale || !c.now().Before(t.ExpiresAt) {
		return "", false
	}
	return t.Token, true
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	body := map[string]string{
		"api_key":    c.cfg.APIKey,
		"secret_key": c.cfg.SecretKey,
		"domain":     c.cfg.Domain,
	}
	status, raw, err := c.post(ctx, authPath, body, "")
	if err != nil {
		metrics.AuthTokenRefreshes.WithLabelValues("transient").Inc()
		return "", domain.WrapError(domain.ErrTransient, "Service temporarily unavailable. Please try again.", err)
	}
	if status >= 400 {
		metrics.AuthTokenRefreshes.WithLabelValues("rejected").Inc()
		slog.Error("axiam: authentication failed", "status", status, "body", truncate(raw))
		return "", domain.NewError(domain.ErrAuth, "Facial sign-on is temporarily unavailable.", fmt.Sprintf("auth endpoint returned HTTP %d", status))
	}

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			AuthenticatedToken string `json:"authenticated_token"`
			ExpiresIn          int64  `json:"expires_in"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.AuthTokenRefreshes.WithLabelValues("malformed").Inc()
		return "", domain.WrapError(domain.ErrAuth, "Facial sign-on is temporarily unavailable.", fmt.Errorf("decode auth response: %w", err))
	}
	if !resp.Success || resp.Data.AuthenticatedToken == "" {
		metrics.AuthTokenRefreshes.WithLabelValues("rejected").Inc()
		return "", domain.NewError(domain.ErrAuth, "Facial sign-on is temporarily unavailable.", "auth rejected: "+resp.Message)
	}

	lifetime := defaultTokenLifetime
	if resp.Data.ExpiresIn > 0 {
		lifetime = time.Duration(resp.Data.ExpiresIn) * time.Second
	}
	ttl := lifetime - refreshMargin
	if ttl <= 0 {
		ttl = lifetime
	}
	tok := domain.AuthToken{Token: resp.Data.AuthenticatedToken, ExpiresAt: c.now().Add(ttl)}
	if b, err := json.Marshal(tok); err == nil {
		if err := c.cache.Set(ctx, c.tokenKey(), b, ttl); err != nil {
			slog.Warn("axiam: auth token cache write failed", "err", err)
		}
	}
	metrics.AuthTokenRefreshes.WithLabelValues("ok").Inc()
	slog.Info("axiam: authenticated", "expires_in", int64(lifetime.Seconds()))
	return tok.Token, nil
}

// call performs an authenticated POST and classifies the result.
func (c *Client) call(ctx context.Context, endpoint, path string, body interface{}) (*Response, error) {
	tok, err := c.AuthToken(ctx)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.post(ctx, path, body, tok)
	if err != nil {
		metrics.VendorCalls.WithLabelValues(endpoint, "transient").Inc()
		return nil, domain.WrapError(domain.ErrTransient, "Service temporarily unavailable. Please try again.", err)
	}

	if (status == http.StatusUnauthorized || status == http.StatusForbidden) && !hasVendorCode(raw) {
		slog.Warn("axiam: bearer rejected, refreshing", "endpoint", endpoint, "status", status)
		if tok, err = c.refresh(ctx, tok, false); err != nil {
			return nil, err
		}
		status, raw, err = c.post(ctx, path, body, tok)
		if err != nil {
			metrics.VendorCalls.WithLabelValues(endpoint, "transient").Inc()
			return nil, domain.WrapError(domain.ErrTransient, "Service temporarily unavailable. Please try again.", err)
		}
		if (status == http.StatusUnauthorized || status == http.StatusForbidden) && !hasVendorCode(raw) {
			metrics.VendorCalls.WithLabelValues(endpoint, "auth_error").Inc()
			return nil, domain.NewError(domain.ErrAuth, "Facial sign-on is temporarily unavailable.", fmt.Sprintf("%s rejected after refresh: HTTP %d", endpoint, status))
		}
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.VendorCalls.WithLabelValues(endpoint, "upstream_error").Inc()
		slog.Error("axiam: invalid response", "endpoint", endpoint, "status", status, "body", truncate(raw))
		return nil, domain.WrapError(domain.ErrUpstream, "Server error. Please try again.", fmt.Errorf("decode %s response: %w", endpoint, err))
	}
	resp.Raw = raw

	if !resp.Success {
		e := classify(&resp, status)
		metrics.VendorCalls.WithLabelValues(endpoint, e.Code()).Inc()
		slog.Warn("axiam: call failed", "endpoint", endpoint, "status", status, "code", resp.Code, "message", resp.Message)
		return nil, e
	}
	if status >= 300 {
		metrics.VendorCalls.WithLabelValues(endpoint, "upstream_error").Inc()
		return nil, domain.NewError(domain.ErrUpstream, "Server error. Please try again.", fmt.Sprintf("%s returned HTTP %d", endpoint, status))
	}
	metrics.VendorCalls.WithLabelValues(endpoint, "ok").Inc()
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, bearer string) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return res.StatusCode, raw, nil
}

// classify maps a vendor failure envelope onto the error taxonomy.
func classify(resp *Response, status int) *domain.Error {
	kind := domain.ErrUpstream
	msg := "Request failed. Please try again."
	var cause error
	switch resp.Code {
	case 1007:
		kind, msg = domain.ErrNotFound, "No facial sign-on account found for this email."
	case 1012:
		kind, msg = domain.ErrNotFound, "No registered device found for this account."
	case 1002:
		kind, msg, cause = domain.ErrForbidden, "Facial sign-on is not enabled for this account.", domain.ErrNotEnabled
	case 1013:
		kind, msg = domain.ErrForbidden, "This account is locked."
	case 1020, 1021:
		kind, msg = domain.ErrRateLimited, "Too many requests. Please wait and try again."
	default:
		if status == http.StatusTooManyRequests {
			kind, msg = domain.ErrRateLimited, "Too many requests. Please wait and try again."
		}
	}
	if resp.UserMessage != "" {
		msg = resp.UserMessage
	}
	e := domain.NewError(kind, msg, resp.Message)
	e.VendorCode = resp.Code
	e.Err = cause
	return e
}

// hasVendorCode reports whether raw is a failure envelope carrying an Axiam error code,
// meaning a 401/403 is about the request rather than the bearer.
func hasVendorCode(raw []byte) bool {
	var r Response
	return json.Unmarshal(raw, &r) == nil && !r.Success && r.Code != 0
}

func truncate(b []byte) string {
	const n = 512
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
