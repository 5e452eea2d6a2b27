package backoff

import (
	"context"
)

// Backoff blocks the caller for a duration derived from the number of
// attempts made so far, or until the context is cancelled.
type Backoff interface {
	Backoff(ctx context.Context, attempts int)
}
