package relay

import (
	"encoding/json"
	"time"

	"github.com/facial-sign-on/internal/infrastructure/metrics"
)

// Frame types written to the socket.
const (
	TypeWelcome = "welcome"
	TypeConfirm = "confirm_subscription"
	TypeReject  = "reject_subscription"
	TypeMessage = "message"
	TypePing    = "ping"
)

// ConfirmFrame acknowledges a subscription.
type ConfirmFrame struct {
	Type          string `json:"type"`
	Identifier    string `json:"identifier"`
	Channel       string `json:"channel"`
	SiteID        string `json:"site_id,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Timestamp     int64  `json:"timestamp"`
}

type RejectFrame struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// MessageFrame wraps a published event. Message is forwarded verbatim.
type MessageFrame struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Message    json.RawMessage `json:"message"`
}

func Confirm(identifier string, g *Grant, id *Identity, now time.Time) ConfirmFrame {
	site, _ := g.Tenant.SiteID()
	return ConfirmFrame{
		Type:          TypeConfirm,
		Identifier:    identifier,
		Channel:       g.Channel,
		SiteID:        site,
		Authenticated: id.Authenticated,
		Timestamp:     now.Unix(),
	}
}

func Reject(identifier, reason string) RejectFrame {
	return RejectFrame{Type: TypeReject, Identifier: identifier, Reason: reason}
}

// Message wraps payload for identifier and counts it by status. Payloads that are not
// JSON are sent as a JSON string.
func Message(identifier string, payload []byte) MessageFrame {
	msg := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		msg = quoted
	}
	metrics.RelayEvents.WithLabelValues(EventStatus(payload)).Inc()
	return MessageFrame{Type: TypeMessage, Identifier: identifier, Message: msg}
}

var knownStatuses = map[string]bool{
	"pending":    true,
	"processing": true,
	"verified":   true,
	"success":    true,
	"failed":     true,
	"error":      true,
	"timeout":    true,
}

// EventStatus returns the status field of an event, or "other" when it is missing or not
// one of the known values.
func EventStatus(payload []byte) string {
	var ev struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil || !knownStatuses[ev.Status] {
		return "other"
	}
	return ev.Status
}
