package backoff

import (
	"context"
	"math"
	"time"
)

// Exponential doubles the backoff duration on every attempt, up to a
// maximum backoff duration.
type Exponential struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewExponential(baseBackoff, maxBackoff time.Duration) *Exponential {
	return &Exponential{
		BaseBackoff: baseBackoff,
		MaxBackoff:  maxBackoff,
	}
}

func (eb *Exponential) Backoff(ctx context.Context, attempts int) {
	if attempts == 0 {
		return
	}

	backoff := float64(eb.BaseBackoff) * math.Pow(2, float64(attempts-1))
	backoff = math.Min(backoff, float64(eb.MaxBackoff))

	select {
	case <-time.After(time.Duration(backoff)):
	case <-ctx.Done():
	}
}

// compile time check whether the Exponential implements the Backoff interface.
var _ Backoff = (*Exponential)(nil)
