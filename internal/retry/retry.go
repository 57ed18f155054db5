package retry

import (
	"context"
	"time"

	"casewizard/internal/domain"
)

// Policy bounds a retried call.
type Policy struct {
	MaxRetries int
	Backoff    Strategy
	// Retryable decides whether err should be retried. Nil uses the
	// error taxonomy.
	Retryable func(err error) bool
}

// AnalysisPolicy is used for the photo analyzer: two retries starting at 3s.
func AnalysisPolicy() Policy {
	return Policy{MaxRetries: 2, Backoff: NewExponential(3*time.Second, 0)}
}

// ProtocolPolicy is used for per-item protocol generation: two retries starting at 2s.
func ProtocolPolicy() Policy {
	return Policy{MaxRetries: 2, Backoff: NewExponential(2*time.Second, 0)}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Notify is called before each retry with the 1-indexed attempt, the delay
// about to be waited and the error that triggered it.
type Notify func(attempt int, delay time.Duration, err error)

// Do runs fn, retrying up to p.MaxRetries times. It stops early when the
// error is not retryable (returning it) or when ctx is done while waiting
// (returning the context error).
func Do(ctx context.Context, p Policy, sleep Sleeper, notify Notify, fn func(ctx context.Context) error) error {
	if sleep == nil {
		sleep = SleepContext
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return domain.Classify(err).Retryable() }
	}
	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.Delay(attempt + 1)
		}
		if notify != nil {
			notify(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}
