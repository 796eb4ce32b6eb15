package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/facial-sign-on/internal/application/relay"
	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/metrics"
)

const (
	defaultPingInterval = 3 * time.Second
	writeTimeout        = 5 * time.Second
)

// CableHandler serves the realtime relay socket.
type CableHandler struct {
	relay        relay.Service
	origins      []string
	pingInterval time.Duration
	now          func() time.Time
}

// NewCableHandler accepts sockets from allowedOrigins. Entries may be full origins
// ("https://app.example.com") or host patterns ("*.example.com").
func NewCableHandler(svc relay.Service, allowedOrigins []string) *CableHandler {
	return &CableHandler{
		relay:        svc,
		origins:      originPatterns(allowedOrigins),
		pingInterval: defaultPingInterval,
		now:          time.Now,
	}
}

type cableCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

// cableIdentifier is the JSON document carried as a string in cableCommand.Identifier.
type cableIdentifier struct {
	Channel  string `json:"channel"`
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

type welcomeFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

type pingFrame struct {
	Type    string `json:"type"`
	Message int64  `json:"message"`
}

// Serve authenticates before upgrading so an invalid credential gets a plain 401.
func (h *CableHandler) Serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ident, err := h.relay.Connect(r.Context(), relay.ConnectParams{
		Token:         q.Get("token"),
		ChannelPrefix: q.Get("channel_prefix"),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("cable: upgrade failed", "connection_id", ident.ConnectionID, "err", err)
		return
	}
	metrics.RelayActive.Inc()
	defer metrics.RelayActive.Dec()

	// Subscriptions outlive the request context once upgraded; tie them to the socket.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cc := &cableConn{h: h, c: c, ident: ident, subs: make(map[string]domain.Subscription)}
	defer cc.closeAll()

	if err := cc.write(ctx, welcomeFrame{Type: relay.TypeWelcome, ConnectionID: ident.ConnectionID}); err != nil {
		return
	}
	go cc.ping(ctx)

	err = cc.readLoop(ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Debug("cable: closed", "connection_id", ident.ConnectionID)
	default:
		if !errors.Is(err, context.Canceled) {
			slog.Info("cable: connection ended", "connection_id", ident.ConnectionID, "err", err)
		}
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// cableConn holds the subscriptions of one socket keyed by identifier.
type cableConn struct {
	h     *CableHandler
	c     *websocket.Conn
	ident *relay.Identity

	mu   sync.Mutex
	subs map[string]domain.Subscription
}

func (cc *cableConn) readLoop(ctx context.Context) error {
	for {
		var cmd cableCommand
		if err := wsjson.Read(ctx, cc.c, &cmd); err != nil {
			return err
		}
		switch cmd.Command {
		case "subscribe":
			if err := cc.subscribe(ctx, cmd.Identifier); err != nil {
				return err
			}
		case "unsubscribe":
			cc.unsubscribe(cmd.Identifier)
		default:
			slog.Debug("cable: ignored command", "connection_id", cc.ident.ConnectionID, "command", cmd.Command)
		}
	}
}

// subscribe answers with a confirm or reject frame. Only write failures are returned.
func (cc *cableConn) subscribe(ctx context.Context, identifier string) error {
	var idf cableIdentifier
	if err := json.Unmarshal([]byte(identifier), &idf); err != nil {
		return cc.write(ctx, relay.Reject(identifier, relay.ReasonUnknownChannel))
	}

	grant, err := cc.h.relay.Authorize(ctx, cc.ident, relay.SubscribeRequest{
		Channel:  idf.Channel,
		Token:    idf.Token,
		ClientID: idf.ClientID,
	})
	if err != nil {
		return cc.write(ctx, relay.Reject(identifier, rejectReason(err)))
	}

	sub, err := cc.h.relay.Subscribe(ctx, grant)
	if err != nil {
		slog.Error("cable: subscribe failed", "connection_id", cc.ident.ConnectionID, "err", err)
		return cc.write(ctx, relay.Reject(identifier, "relay unavailable"))
	}

	cc.mu.Lock()
	if old, ok := cc.subs[identifier]; ok {
		_ = old.Close()
	}
	cc.subs[identifier] = sub
	cc.mu.Unlock()

	go cc.forward(ctx, identifier, sub)
	return cc.write(ctx, relay.Confirm(identifier, grant, cc.ident, cc.h.now()))
}

func (cc *cableConn) forward(ctx context.Context, identifier string, sub domain.Subscription) {
	for msg := range sub.Messages() {
		if err := cc.write(ctx, relay.Message(identifier, msg)); err != nil {
			return
		}
	}
}

func (cc *cableConn) unsubscribe(identifier string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if sub, ok := cc.subs[identifier]; ok {
		_ = sub.Close()
		delete(cc.subs, identifier)
	}
}

func (cc *cableConn) closeAll() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for k, sub := range cc.subs {
		_ = sub.Close()
		delete(cc.subs, k)
	}
}

func (cc *cableConn) ping(ctx context.Context) {
	t := time.NewTicker(cc.h.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := cc.write(ctx, pingFrame{Type: relay.TypePing, Message: cc.h.now().Unix()}); err != nil {
				return
			}
		}
	}
}

func (cc *cableConn) write(ctx context.Context, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, cc.c, v)
}

func rejectReason(err error) string {
	if domain.CodeOf(err) == "forbidden" {
		return domain.UserMessage(err, "subscription rejected")
	}
	return "subscription failed"
}

// originPatterns turns configured origins into the host patterns websocket.Accept matches.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
