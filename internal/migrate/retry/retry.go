// Package retry implements the write-conflict retry policy (spec §4.8):
// retriable errors are retried with jittered exponential backoff up to a
// ceiling, driven by github.com/cenkalti/backoff/v4 around the internal
// backoff curve used elsewhere in the engine.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	internalbackoff "github.com/outpostdb/migrator/internal/backoff"
	"github.com/outpostdb/migrator/internal/migrate/migrateerr"
	redispkg "github.com/redis/go-redis/v9"
)

// ShouldRetryFunc classifies an error as retriable.
type ShouldRetryFunc func(err error) bool

// OnRetryFunc is invoked after a retriable failure, before sleeping.
type OnRetryFunc func(err error, attempt int, delay time.Duration)

// Policy configures Run's retry behavior.
type Policy struct {
	MaxRetries         int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	ExponentialBackoff bool
	Jitter             bool
	ShouldRetry        ShouldRetryFunc
	OnRetry            OnRetryFunc
}

// DefaultPolicy matches the spec's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:         3,
		InitialDelay:       50 * time.Millisecond,
		MaxDelay:           1000 * time.Millisecond,
		ExponentialBackoff: true,
		Jitter:             true,
		ShouldRetry:        IsWriteConflict,
	}
}

// IsWriteConflict is the default classifier: it recognizes go-redis's
// optimistic-lock failure as retriable and never retries "no such
// element" (redis.Nil) or any other error.
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redispkg.TxFailedErr) {
		return true
	}
	return false
}

func (p Policy) curve() internalbackoff.Backoff {
	var base internalbackoff.Backoff
	if p.ExponentialBackoff {
		base = &internalbackoff.ExponentialBackoff{Interval: p.InitialDelay, Base: 2}
	} else {
		base = &internalbackoff.ConstantBackoff{Interval: p.InitialDelay}
	}
	if !p.Jitter {
		return base
	}
	return &internalbackoff.JitteredBackoff{Inner: base, Jitter: 0.2, MaxDelay: p.MaxDelay}
}

// curveBackOff adapts our Backoff curve to cenkalti/backoff/v4's
// BackOff interface, which cenkalti's Retry loop drives.
type curveBackOff struct {
	curve   internalbackoff.Backoff
	retries int
	max     int
}

func (c *curveBackOff) NextBackOff() time.Duration {
	if c.retries >= c.max {
		return backoff.Stop
	}
	d := c.curve.Duration(c.retries)
	c.retries++
	return d
}

func (c *curveBackOff) Reset() {
	c.retries = 0
}

// Run executes fn, retrying per Policy when ShouldRetry(err) is true.
// Once MaxRetries retries have failed it returns a KindConflictExhausted
// error wrapping the last error. An error not classified as retriable
// stops at once: a *migrateerr.MigrationError is returned as is, any
// other error is wrapped as KindDriverError. A cancelled ctx yields a
// KindCancelled error.
func Run(ctx context.Context, p Policy, fn func() error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsWriteConflict
	}

	cb := &curveBackOff{curve: p.curve(), max: p.MaxRetries}
	attempt := 0
	var lastErr error

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(cb, ctx), notify, nil)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		cause := permanent.Unwrap()
		var mErr *migrateerr.MigrationError
		if errors.As(cause, &mErr) {
			return cause // already classified; keep its Kind intact
		}
		return migrateerr.Wrap(migrateerr.KindDriverError, "operation failed", cause)
	}
	if ctx.Err() != nil {
		return migrateerr.Wrap(migrateerr.KindCancelled, "retry cancelled", ctx.Err())
	}
	return migrateerr.Wrap(migrateerr.KindConflictExhausted, "write conflict retries exhausted", lastErr)
}
