package helper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryMode selects how failing calls to external services are handled.
type RetryMode string

const (
	RetryModeFailFast    RetryMode = "fail-fast"
	RetryModeExponential RetryMode = "exponential"
)

// RetryPolicy configures retries of calls to external collaborators.
type RetryPolicy struct {
	Mode            RetryMode     `json:"mode"`
	MaxRetries      uint64        `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
}

// DefaultRetryPolicy calls every collaborator exactly once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Mode:            RetryModeFailFast,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Validate checks the policy for unknown modes.
func (p RetryPolicy) Validate() error {
	switch p.Mode {
	case "", RetryModeFailFast, RetryModeExponential:
		return nil
	default:
		return fmt.Errorf("%w: unknown retry mode %q", ErrInvalidArgument, p.Mode)
	}
}

// Retry runs op according to the policy. Permanent errors (see IsPermanent)
// and context cancellation stop retrying immediately.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	if policy.Mode != RetryModeExponential || policy.MaxRetries == 0 {
		return op()
	}

	exp := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, policy.MaxRetries), ctx)

	var last error
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		last = err
		if IsPermanent(err) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil && last != nil && !errors.Is(err, last) {
		// context expired while waiting between attempts
		return fmt.Errorf("%w (last attempt: %w)", err, last)
	}
	return err
}

// WithTimeout runs fn under a derived context bounded by timeout. A
// deadline hit is reported as ErrTimeout. A timeout <= 0 disables the bound.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := CallWithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CallWithTimeout is WithTimeout for calls returning a value.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return result, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	return result, err
}
