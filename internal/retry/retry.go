// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry wraps fallible operations with exponential backoff and jitter.
// A failure that carries a server-supplied retry hint (for example an HTTP
// Retry-After header) is retried after that hint instead of the computed delay.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
)

// Options controls how an operation is retried.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// IsRetryable reports whether a failure may be retried. Nil means every
	// failure is retryable.
	IsRetryable func(error) bool

	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// RetryAfterHint is implemented by errors that carry a server-supplied delay.
type RetryAfterHint interface {
	RetryAfter() (time.Duration, bool)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	return o
}

// Do invokes op up to opts.MaxAttempts times. A non-retryable failure is
// returned immediately; after the last attempt the final error is returned
// unchanged.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if opts.IsRetryable != nil && !opts.IsRetryable(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := Delay(attempt, opts.BaseDelay, opts.MaxDelay, err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
		if waitErr := sleepContext(ctx, delay); waitErr != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Run is Do for operations that produce no value.
func Run(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Delay returns the wait before retry number attempt (1-based) following err.
func Delay(attempt int, base, maximum time.Duration, err error) time.Duration {
	var hint RetryAfterHint
	if errors.As(err, &hint) {
		if d, ok := hint.RetryAfter(); ok {
			return min(max(d, 0), maximum)
		}
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if base > 0 {
		delay += time.Duration(rand.Int64N(int64(base)))
	}
	return min(delay, maximum)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
