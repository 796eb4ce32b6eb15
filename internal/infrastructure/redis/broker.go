package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/facial-sign-on/internal/domain"
)

// Broker implements domain.Broker with Redis PUBLISH/SUBSCRIBE. The vendor publishes on
// the bare channel names, so channels are only namespaced when a namespace is configured.
type Broker struct {
	client    *goredis.Client
	namespace string
}

// NewBroker returns a Broker that prepends namespace to every channel. An empty
// namespace uses the channel names as given.
func NewBroker(client *goredis.Client, namespace string) *Broker {
	return &Broker{client: client, namespace: namespace}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, b.namespace+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis broker: publish: %w", err)
	}
	return nil
}

// Subscribe waits for the server to confirm the subscription before returning, so a
// publish issued after Subscribe returns is never missed.
func (b *Broker) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.namespace+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis broker: subscribe: %w", err)
	}

	s := &subscription{ps: ps, ch: make(chan []byte, 16), done: make(chan struct{})}
	go s.pump(ctx, ps.Channel())
	return s, nil
}

type subscription struct {
	ps   *goredis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscription) pump(ctx context.Context, in <-chan *goredis.Message) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
