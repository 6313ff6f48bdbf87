package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// Transient failure kinds. Adapters mark node answers worth repeating with
// WrapRetryable; transport failures are recognized without marking.
var (
	ErrRetryable = &heralderr.HeraldError{
		Code:     "RETRYABLE_ERROR",
		Message:  "transient chain error",
		ExitCode: heralderr.ExitGeneral,
	}

	ErrTimeout = &heralderr.HeraldError{
		Code:     "TIMEOUT",
		Message:  "chain request timed out",
		ExitCode: heralderr.ExitGeneral,
	}

	ErrRateLimited = &heralderr.HeraldError{
		Code:     "RATE_LIMITED",
		Message:  "chain request rate limited",
		ExitCode: heralderr.ExitGeneral,
	}
)

// RetryConfig bounds how often a facade read is repeated.
type RetryConfig struct {
	MaxAttempts int           // Including the first call; below 1 means one call
	BaseDelay   time.Duration // Pause before the first retry, doubled for each one after
	MaxDelay    time.Duration // Cap on a single pause
}

// backoff returns the pause before retry n (0 for the first retry), drawn
// from the upper half of the capped exponential delay.
func (c RetryConfig) backoff(n int) time.Duration {
	d := c.BaseDelay << min(n, 30)
	if d <= 0 || (c.MaxDelay > 0 && d > c.MaxDelay) {
		d = c.MaxDelay
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half) //nolint:gosec // jitter only
}

// Retry calls read until it succeeds, fails with an error IsRetryable
// rejects, or the attempts run out. Cancelling ctx ends the wait early.
func Retry[T any](ctx context.Context, cfg RetryConfig, read func() (T, error)) (T, error) {
	attempts := max(cfg.MaxAttempts, 1)

	for n := 0; ; n++ {
		result, err := read()
		switch {
		case err == nil:
			return result, nil
		case !IsRetryable(err):
			return result, err
		case n+1 >= attempts:
			if attempts == 1 {
				return result, err
			}
			return result, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
		}

		pause := time.NewTimer(cfg.backoff(n))
		select {
		case <-ctx.Done():
			pause.Stop()
			var zero T
			return zero, ctx.Err()
		case <-pause.C:
		}
	}
}

// IsRetryable reports whether a failed chain read may succeed if repeated:
// marked transient errors, lost node connections, timeouts and transport
// failures. Cancellation and node rejections are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRetryable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, heralderr.ErrChainDisconnected),
		errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WrapRetryable marks err as transient.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}
