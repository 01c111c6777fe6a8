package execution

import (
	"context"
	"time"

	"cryptoTrendBot/internal/ports"
)

// RetryPolicy bounds the confirm-and-retry protocol: each open/close attempt
// is allowed one confirmation window, and the whole attempt is repeated up to
// MaxAttempts with a fixed inter-attempt delay.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of submission attempts.
	MaxAttempts int

	// AttemptDelay is the fixed pause between attempts.
	AttemptDelay time.Duration

	// ConfirmTimeout bounds the wait for the exchange to report the expected
	// post-condition after a submission.
	ConfirmTimeout time.Duration

	// PollInterval is the fixed spacing of position-confirmation queries.
	PollInterval time.Duration
}

// withDefaults fills zero fields with conservative values.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.AttemptDelay <= 0 {
		p.AttemptDelay = 2 * time.Second
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = 10 * time.Second
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 500 * time.Millisecond
	}
	return p
}

// sleep pauses for d or until the context is canceled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ports.ErrContextCanceled
	}
}
