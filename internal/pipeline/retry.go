// Copyright 2025 Tom Barlow
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

package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// RetryPolicy configures bounded exponential backoff for transient stage
// failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (typically 2.0 for exponential).
	Multiplier float64

	// Jitter adds up to this fraction of randomness to each delay (0.0-1.0).
	Jitter float64
}

// DefaultRetryPolicy returns the standard policy: three attempts starting
// at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// retry calls fn until it succeeds, returns an error that is not
// retryable, or the attempts run out. attemptCtx is handed to fn; ctx
// governs whether another attempt may start, so a stage that must not be
// interrupted can pass a detached attemptCtx while ctx still ends the
// retry loop. A backoff that would outlast ctx's deadline is not waited
// out. onRetry is called before each retry.
func (p RetryPolicy) retry(ctx, attemptCtx context.Context, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(attemptCtx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !agenterrors.IsRetryable(err) || ctx.Err() != nil {
			return err
		}

		delay := p.backoff(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

// backoff computes the delay after the given failed attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}
