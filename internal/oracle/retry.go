// Package oracle wraps every call that crosses the process boundary with an
// independent timeout and a bounded exponential backoff retry.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnavailable marks a call that still failed after every retry. Callers
// surface it as a transient, user-retryable failure.
var ErrUnavailable = errors.New("oracle: unavailable")

// UnavailableError reports which operation gave up and why.
type UnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("oracle: %s unavailable after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retryable reports whether a failed call may succeed on a second attempt:
// anything except cancellation, explicit Permanent errors and non-429 4xx
// responses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return true
}

// Policy bounds a single oracle operation.
type Policy struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is a 10s per-attempt timeout with two retries.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Caller applies a Policy to oracle calls.
type Caller struct {
	policy Policy
	logger *slog.Logger
}

// NewCaller returns a Caller. Zero policy fields fall back to DefaultPolicy.
func NewCaller(p Policy, logger *slog.Logger) *Caller {
	def := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{policy: p, logger: logger}
}

func (c *Caller) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.policy.InitialInterval
	exp.MaxInterval = c.policy.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.policy.MaxRetries)), ctx)
}

// Do runs fn with a fresh timeout per attempt, retrying retryable failures.
// A non-retryable failure is returned unchanged; exhausting the retries
// returns an *UnavailableError.
func Do[T any](ctx context.Context, c *Caller, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := 0
	permanent := false
	attempt := func() (T, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
		out, err := fn(callCtx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !Retryable(err) {
			permanent = true
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return out, err
			}
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("oracle_retry", "op", op, "attempt", attempts, "wait", wait, "err", err)
	}

	out, err := backoff.RetryNotifyWithData(attempt, c.newBackOff(ctx), notify)
	if err == nil {
		return out, nil
	}
	// backoff unwraps permanent errors before returning them.
	if permanent || ctx.Err() != nil {
		return out, err
	}
	return out, &UnavailableError{Op: op, Attempts: attempts, Err: err}
}
