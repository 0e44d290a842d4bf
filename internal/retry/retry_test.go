package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/price-follower/internal/gateway"
)

// fakeClock advances only when the policy sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newPolicy(clock *fakeClock) *Policy {
	p := Default()
	p.Now = clock.Now
	p.Sleep = clock.Sleep
	return p
}

func limited(msg string) error {
	return &gateway.UpstreamError{Op: "S_competition", Status: 200, Messages: []string{msg}}
}

func TestDoWaitsServerSuggestedDelay(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	p := newPolicy(clock)

	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return limited("Too many requests. Retry after 12 seconds")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{12 * time.Second}, clock.sleeps)
}

func TestDoDefaultWaitWithoutPattern(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	p := newPolicy(clock)

	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return limited("too many requests")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.sleeps)
}

func TestDoGivesUpAfterCeiling(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	p := newPolicy(clock)

	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return limited("Too many requests")
	})
	require.Error(t, err)
	assert.True(t, gateway.IsRateLimited(err))

	var total time.Duration
	for _, s := range clock.sleeps {
		total += s
	}
	assert.LessOrEqual(t, total, 60*time.Second)
	assert.Equal(t, 12, len(clock.sleeps))
	assert.Equal(t, 13, calls)
}

func TestDoStopsBeforeOverlongWait(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	p := newPolicy(clock)

	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return limited("Too many requests. Retry after 90")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
}

func TestDoPropagatesOtherErrorsImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	p := newPolicy(clock)

	for _, fail := range []error{
		&gateway.UpstreamError{Op: "x", Status: 200, Messages: []string{"invalid id"}},
		&gateway.TransportError{Op: "x", Err: errors.New("connection refused")},
		&gateway.ProtocolError{Op: "x", Status: 502, Body: "bad"},
	} {
		calls := 0
		err := p.Do(context.Background(), "op", func(context.Context) error {
			calls++
			return fail
		})
		assert.Same(t, fail, err)
		assert.Equal(t, 1, calls)
	}
	assert.Empty(t, clock.sleeps)
}

func TestDoHonoursCancellation(t *testing.T) {
	p := New(time.Hour, 2*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, "op", func(context.Context) error { return limited("too many requests") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, gateway.IsRateLimited(err))
}

func TestWaitFor(t *testing.T) {
	p := Default()
	assert.Equal(t, 12*time.Second, p.WaitFor(errors.New("Retry after 12")))
	assert.Equal(t, 3*time.Second, p.WaitFor(errors.New("too many requests, retry after 3s")))
	assert.Equal(t, 5*time.Second, p.WaitFor(errors.New("slow down")))
}
