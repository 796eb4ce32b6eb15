package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewCache().WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "tok", []byte("v"), 5*time.Minute))
	clock.Advance(4 * time.Minute)
	_, ok, _ := c.Get(ctx, "tok")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok, _ = c.Get(ctx, "tok")
	assert.False(t, ok)
}

func TestCache_SetNXAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewCache().WithClock(clock.Now)
	ctx := context.Background()

	ok, _ := c.SetNX(ctx, "g", []byte("1"), time.Minute)
	assert.True(t, ok)
	ok, _ = c.SetNX(ctx, "g", []byte("1"), time.Minute)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	ok, _ = c.SetNX(ctx, "g", []byte("1"), time.Minute)
	assert.True(t, ok)
}

func TestCache_SetNXConcurrent(t *testing.T) {
	c := NewCache()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.SetNX(context.Background(), "g", []byte("1"), time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestCache_TakeIsOneShot(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	v, ok, err := c.Take(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok, _ = c.Take(ctx, "k")
	assert.False(t, ok)
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("abc"), time.Minute))

	v, _, _ := c.Get(ctx, "k")
	v[0] = 'z'
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, "ch")
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer s1.Close()
	defer s2.Close()

	require.NoError(t, b.Publish(ctx, "ch", []byte("hello")))
	assert.Equal(t, []byte("hello"), <-s1.Messages())
	assert.Equal(t, []byte("hello"), <-s2.Messages())
}

func TestBroker_PublishWithoutSubscribersIsDropped(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "ch", []byte("lost")))

	s, err := b.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer s.Close()

	select {
	case m := <-s.Messages():
		t.Fatalf("unexpected replay %q", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	s, err := b.Subscribe(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("ch"))

	cancel()
	_, ok := <-s.Messages()
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return b.Subscribers("ch") == 0 }, time.Second, 10*time.Millisecond)
}
