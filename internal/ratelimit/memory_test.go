package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter() (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory()
	l.now = clock.Now
	return l, clock
}

func TestMemoryLimiter_SixthAttemptDenied(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	prev := 5
	for i := 1; i <= 5; i++ {
		res, err := l.Check(ctx, "1.2.3.4", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i)
		assert.Less(t, res.Remaining, prev, "remaining must strictly decrease")
		prev = res.Remaining
	}
	assert.Equal(t, 0, prev)

	res, err := l.Check(ctx, "1.2.3.4", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	for range 3 {
		_, err := l.Check(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
	}
	res, err := l.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)

	clock.Advance(time.Minute)

	res, err = l.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryLimiter_DeniedAttemptsDoNotExtendWindow(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	first, err := l.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	denied, err := l.Check(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, first.ResetAt, denied.ResetAt)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	_, err := l.Check(ctx, "a", 1, time.Minute)
	require.NoError(t, err)

	res, err := l.Check(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	_, err := l.Check(ctx, "old", 5, time.Minute)
	require.NoError(t, err)
	clock.Advance(90 * time.Second)
	_, err = l.Check(ctx, "new", 5, time.Minute)
	require.NoError(t, err)

	l.cleanup(clock.Now())
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "shared", 50, time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestEnforce(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	p := Policy{Max: 1, Window: time.Minute}

	_, err := Enforce(ctx, l, "k", p)
	require.NoError(t, err)

	_, err = Enforce(ctx, l, "k", p)
	require.ErrorIs(t, err, ErrLimitExceeded)
}
