package memory

import (
	"context"
	"sync"

	"github.com/facial-sign-on/internal/domain"
)

// subscriberBuffer bounds each subscriber's queue; a full queue drops the message.
const subscriberBuffer = 16

// Broker fans published messages out to the subscribers of a channel.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[channel] {
		s.deliver(clone(payload))
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	s := &subscription{
		broker:  b,
		channel: channel,
		ch:      make(chan []byte, subscriberBuffer),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.channel], s)
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
}

type subscription struct {
	broker  *Broker
	channel string
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

func (s *subscription) deliver(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.broker.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}
