package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy waits 1s, doubling per attempt, capped at 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
	}
}

// Do runs fn until it returns done=true, the attempt budget is exhausted,
// or ctx is cancelled. fn's error aborts the loop immediately.
func (p Policy) Do(ctx context.Context, fn func(attempt int) (done bool, err error)) (bool, error) {
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		done, err := fn(attempt)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return false, nil
}

// DoUntil is like Do but bounded by total wall-clock budget instead of an
// attempt count. It reports how long it actually waited.
func (p Policy) DoUntil(ctx context.Context, budget time.Duration, fn func(waited time.Duration) (bool, error)) (bool, time.Duration, error) {
	delay := p.BaseDelay
	var waited time.Duration
	for waited < budget {
		done, err := fn(waited)
		if err != nil {
			return false, waited, err
		}
		if done {
			return true, waited, nil
		}
		select {
		case <-ctx.Done():
			return false, waited, ctx.Err()
		case <-time.After(delay):
		}
		waited += delay
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return false, waited, nil
}
