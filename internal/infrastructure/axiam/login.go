package axiam

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/facial-sign-on/internal/domain"
)

// LookupClient resolves the Axiam client registered for email.
func (c *Client) LookupClient(ctx context.Context, email string) (*Response, error) {
	return c.call(ctx, "lookup_client", lookupPath, map[string]string{"email": email})
}

// PushNotification asks Axiam to prompt the client's device and returns the new
// verification token.
func (c *Client) PushNotification(ctx context.Context, clientID string) (*PushResult, error) {
	resp, err := c.call(ctx, "push_notification", pushPath, map[string]string{"id": clientID})
	if err != nil {
		return nil, err
	}
	var out PushResult
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, domain.WrapError(domain.ErrUpstream, "Server error. Please try again.", fmt.Errorf("decode push data: %w", err))
	}
	if out.VerificationToken == "" {
		return nil, domain.NewError(domain.ErrUpstream, "Server error. Please try again.", "push response carried no verification_token")
	}
	out.Raw = resp.Raw
	return &out, nil
}

// ValidateSession asks Axiam to confirm a client_session_token belongs to clientID.
func (c *Client) ValidateSession(ctx context.Context, sessionToken, clientID string) error {
	resp, err := c.call(ctx, "validate_session", validateSessionPath, map[string]string{
		"client_session_token": sessionToken,
		"id":                   clientID,
	})
	if err != nil {
		return err
	}
	var data struct {
		Valid *bool `json:"valid"`
	}
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	if data.Valid != nil && !*data.Valid {
		return domain.NewError(domain.ErrForbidden, "Verification could not be confirmed.", "vendor reported session token invalid")
	}
	return nil
}

// CreateClient registers a new facial client for signup.
func (c *Client) CreateClient(ctx context.Context, email, fullName string) (*ClientRecord, error) {
	resp, err := c.call(ctx, "create_client", createClientPath, map[string]string{
		"email":     email,
		"full_name": fullName,
	})
	if err != nil {
		return nil, err
	}
	var out ClientRecord
	if err := json.Unmarshal(resp.Data, &out); err != nil || out.ClientID == "" {
		return nil, domain.NewError(domain.ErrUpstream, "Failed to create account. Please try again.", "create response carried no client_id")
	}
	return &out, nil
}

// GenerateQRCode returns the vendor's QR payload for enrolling the client's device.
func (c *Client) GenerateQRCode(ctx context.Context, clientID, flowType string) (*Response, error) {
	return c.call(ctx, "qrcode", qrCodePath, map[string]string{"id": clientID, "flow_type": flowType})
}
