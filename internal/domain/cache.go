package domain

import (
	"context"
	"time"
)

// Cache is the TTL-bounded key-value store shared by every server process. A miss is
// reported as (nil, false, nil), never as an error.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Take atomically reads and deletes key.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Ping(ctx context.Context) error
}

// Broker is a fire-and-forget pub/sub bus. Messages published while nobody is
// subscribed are dropped.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers messages for one channel until Close is called or the
// subscribing context ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
