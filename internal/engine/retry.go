package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"signaltrader/internal/ports"
)

// callVenue runs one venue operation under the configured per-attempt timeout
// and retries transient failures with exponential backoff. A timed-out call is
// treated as failed, never as unknown-success. Exhausted attempts wrap
// ports.ErrVenueCallFailed so the caller can move the signal to Error.
func (e *Engine) callVenue(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    e.cfg.VenueBackoffMin,
		Max:    e.cfg.VenueBackoffMax,
		Factor: 2,
		Jitter: true,
	}
	var lastErr error
	for attempt := 1; attempt <= e.cfg.VenueMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.VenueTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		e.logger.Warn(ctx, "venue call failed, will retry", map[string]interface{}{
			"op": op, "attempt": attempt, "maxAttempts": e.cfg.VenueMaxAttempts, "error": err.Error(),
		})
		if attempt == e.cfg.VenueMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("%w: %s exhausted %d attempts: %w", ports.ErrVenueCallFailed, op, e.cfg.VenueMaxAttempts, lastErr)
}

// retryable separates transient venue failures from definitive answers.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ports.ErrOrderNotFound),
		errors.Is(err, ports.ErrPositionNotFound),
		errors.Is(err, ports.ErrSymbolNotTradable),
		errors.Is(err, ports.ErrInvalidRequest),
		errors.Is(err, ports.ErrAuthenticationFailed),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
