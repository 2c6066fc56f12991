// Package retry implements the bounded exponential-backoff retry engine
// (C2) shared by the repository engine and other probe-like operations.
//
// Its bookkeeping style is lifted from the teacher's task scheduler retry
// path (retryCount tracking, re-enqueue after delay), generalized into a
// reusable, non-task-specific engine.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/kandev/orchestratorhub/internal/errkind"
	"github.com/kandev/orchestratorhub/internal/model"
)

// Config parameterizes the retry engine.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	TotalTimeout   time.Duration
	RetryableKinds map[errkind.Kind]bool
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     15 * time.Second,
		TotalTimeout: 15 * time.Second,
		RetryableKinds: map[errkind.Kind]bool{
			errkind.Timeout:         true,
			errkind.Network:         true,
			errkind.ConnectionReset: true,
			errkind.DNSResolution:   true,
			errkind.Unknown:         true,
		},
	}
}

func (c Config) isRetryable(k errkind.Kind) bool {
	if c.RetryableKinds == nil {
		return errkind.IsRetryable(k)
	}
	return c.RetryableKinds[k]
}

// Error wraps the final failure of a retry sequence with its attempt
// history, so callers can inspect what was tried before giving up.
type Error struct {
	Kind     errkind.Kind
	Attempts []model.RetryAttempt
	Err      error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Op is the operation the engine drives. It returns a value or an error;
// errors are classified via the error classifier (C1) to decide whether to
// retry.
type Op[T any] func(ctx context.Context) (T, error)

// Do runs op under the retry policy in cfg. Attempt 0 always runs
// immediately. On failure the error is classified; non-retryable kinds
// stop immediately, as does exceeding TotalTimeout or MaxAttempts. Only
// failed attempts are recorded in the returned *Error.
func Do[T any](ctx context.Context, cfg Config, op Op[T]) (T, error) {
	start := time.Now()
	var attempts []model.RetryAttempt
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		kind := errkind.Classify(err.Error())
		elapsed := time.Since(start)
		attempts = append(attempts, model.RetryAttempt{
			AttemptIndex: attempt,
			ErrorMessage: err.Error(),
			Elapsed:      elapsed,
			Timestamp:    time.Now(),
		})

		if !cfg.isRetryable(kind) {
			return zero, &Error{Kind: kind, Attempts: attempts, Err: err}
		}
		if attempt+1 >= cfg.MaxAttempts {
			return zero, &Error{Kind: kind, Attempts: attempts, Err: err}
		}

		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		if elapsed+delay > cfg.TotalTimeout {
			return zero, &Error{Kind: kind, Attempts: attempts, Err: err}
		}

		select {
		case <-ctx.Done():
			return zero, &Error{Kind: kind, Attempts: attempts, Err: errors.Join(err, ctx.Err())}
		case <-time.After(delay):
		}
	}
}
