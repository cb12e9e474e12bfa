// Package retry runs idempotent checks against eventually consistent state
// a bounded number of times.
package retry

import (
	"context"
	"errors"
	"runtime"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
)

// Observer is notified of every failed attempt
type Observer interface {
	RetryAttempt(failed bool)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Option configures one call site
type Option func(*options)

type options struct {
	name     string
	observer Observer
}

// WithName labels the attempts in the log
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithObserver reports attempts to obs
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Do invokes fn up to attempts times and returns the first success. Between
// attempts the goroutine yields to other runnable work instead of sleeping.
// When every attempt fails the last error is wrapped as exhausted retries.
func Do[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	o := options{name: "check"}
	for _, opt := range opts {
		opt(&o)
	}
	if attempts < 1 {
		return zero, errs.New(errs.KindConfiguration, "%s: retry budget must be at least 1, got %d", o.name, attempts)
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if o.observer != nil {
				o.observer.RetryAttempt(false)
			}
			return result, nil
		}
		if o.observer != nil {
			o.observer.RetryAttempt(true)
		}

		var p *permanentError
		if errors.As(err, &p) {
			return zero, p.err
		}
		lastErr = err

		logger.Warn("%s: attempt %d/%d failed: %v", o.name, i, attempts, err)
		runtime.Gosched()
	}

	return zero, errs.Wrap(errs.KindExhaustedRetries, lastErr, "%s: too many attempts (%d)", o.name, attempts)
}

// Run is Do for checks without a result
func Run(ctx context.Context, attempts int, fn func(context.Context) error, opts ...Option) error {
	_, err := Do(ctx, attempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}
