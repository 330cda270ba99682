package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chikwex/orderpipeline/internal/capability"
)

// Policy is the per-step retry budget: MaxAttempts total invocations, waits
// of Interval, Interval*Rate, Interval*Rate^2, ... between them.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Rate        float64
}

// Default matches the workflow step policy: 3 attempts, 2s/4s backoff.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Interval:    2 * time.Second,
		Rate:        2.0,
	}
}

// Do runs op, retrying transient failures per the policy. Permanent errors
// short-circuit immediately; context cancellation stops the wait. The waits
// are timer driven, never busy. Returns the number of invocations made and
// the final error (nil on success).
func (p Policy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Interval
	bo.Multiplier = p.Rate
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	// never clamp within the attempt budget
	bo.MaxInterval = time.Duration(float64(p.Interval) * pow(p.Rate, maxAttempts))
	if bo.MaxInterval < p.Interval {
		bo.MaxInterval = p.Interval
	}

	var b backoff.BackOff = backoff.WithMaxRetries(bo, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if capability.IsPermanent(err) {
			// decline: stop retrying, surface as-is
			return backoff.Permanent(err)
		}
		return err
	}, b)

	return attempts, err
}

func pow(base float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}
