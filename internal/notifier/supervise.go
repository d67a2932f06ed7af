package notifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/starford/revsync/internal/apperr"
)

// Runner is anything that holds one subscription open until it closes.
type Runner interface {
	Run(ctx context.Context) error
}

// Policy decides when a closed subscription is reopened.
type Policy struct {
	// ResubscribeOnGraceful reopens streams the server ended cleanly.
	// Abnormal closures are always retried.
	ResubscribeOnGraceful bool
	BaseBackoff           time.Duration
	MaxBackoff            time.Duration
	// MaxRetries bounds consecutive reopen attempts; zero means unbounded.
	MaxRetries uint64
}

func (p Policy) base() time.Duration {
	if p.BaseBackoff <= 0 {
		return 500 * time.Millisecond
	}
	return p.BaseBackoff
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(p.base())
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	if p.MaxRetries > 0 {
		b = retry.WithMaxRetries(p.MaxRetries, b)
	}
	return b
}

// errHealthy ends a retry round after a stream that delivered events, so
// the next round starts from a fresh backoff.
var errHealthy = errors.New("notifier: healthy stream closed")

// Supervise runs r and reopens it according to p. It returns nil when ctx
// is cancelled or a graceful closure is not to be retried, and the last
// closure error once retries are exhausted. MaxRetries counts failures
// since the last stream that delivered an event.
func Supervise(ctx context.Context, r Runner, p Policy, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempt := 0
	for {
		err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
			attempt++
			err := r.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}

			var closed *apperr.ConnClosedError
			if !errors.As(err, &closed) {
				if err == nil {
					return nil
				}
				return retry.RetryableError(err)
			}
			if closed.Graceful && !p.ResubscribeOnGraceful {
				logger.Info("notifier: stream closed", slog.Int("attempt", attempt))
				return nil
			}
			logger.Warn("notifier: resubscribing",
				slog.Int("attempt", attempt),
				slog.Bool("graceful", closed.Graceful),
				slog.Bool("received", closed.Received),
				slog.String("error", err.Error()))
			if closed.Received {
				return errHealthy
			}
			return retry.RetryableError(err)
		})
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, errHealthy) {
			return err
		}
		if !sleep(ctx, p.base()) {
			return nil
		}
	}
}

// sleep waits d or until ctx ends, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
