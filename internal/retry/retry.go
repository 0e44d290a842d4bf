// Package retry re-runs remote calls that the provider rejected with a rate
// limit, waiting the server-suggested delay within a fixed time budget.
package retry

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/fairyhunter13/price-follower/internal/gateway"
	"github.com/fairyhunter13/price-follower/internal/obs"
)

var retryAfter = regexp.MustCompile(`(?i)retry after (\d+)`)

// Policy retries rate-limited calls.
type Policy struct {
	// DefaultWait applies when the failure carries no server-suggested delay.
	DefaultWait time.Duration
	// Ceiling bounds the total time spent since the first attempt.
	Ceiling time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Policy with the given wait and ceiling and the real clock.
func New(defaultWait, ceiling time.Duration) *Policy {
	return &Policy{DefaultWait: defaultWait, Ceiling: ceiling}
}

// Default is the policy used when none is configured: 5s waits, 60s budget.
func Default() *Policy { return New(5*time.Second, 60*time.Second) }

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// next wait would push the elapsed time past the ceiling.
//
// The ceiling check runs before sleeping: Do gives up as soon as elapsed time
// plus the pending wait exceeds Ceiling, rather than sleeping first and
// stopping afterwards. A single server hint longer than Ceiling is therefore
// never waited out and the rate-limited error is returned at once.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	start := now()
	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !gateway.IsRateLimited(err) {
			return err
		}
		wait := p.WaitFor(err)
		elapsed := now().Sub(start)
		if elapsed+wait > p.Ceiling {
			obs.Logger.Warn("retry_budget_exhausted",
				"op", op,
				"attempts", attempt,
				"elapsed_ms", elapsed.Milliseconds(),
				"error", err.Error(),
			)
			return err
		}
		obs.Logger.Info("retry_wait",
			"op", op,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
		)
		obs.Metrics.RetryWait(ctx, op)
		if serr := sleep(ctx, wait); serr != nil {
			return errors.Join(serr, err)
		}
	}
}

// WaitFor returns the delay suggested by err, or DefaultWait.
func (p *Policy) WaitFor(err error) time.Duration {
	if m := retryAfter.FindStringSubmatch(err.Error()); m != nil {
		if n, perr := strconv.Atoi(m[1]); perr == nil {
			return time.Duration(n) * time.Second
		}
	}
	return p.DefaultWait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
