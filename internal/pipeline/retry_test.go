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
	"errors"
	"testing"
	"time"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

var errTransient = &agenterrors.PlatformError{Kind: agenterrors.PlatformUnreachable}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	err := fastPolicy().retry(context.Background(), context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
	})
	if err != nil {
		t.Fatalf("retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("onRetry attempts = %v, want [1 2]", retried)
	}
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().retry(context.Background(), context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, nil)
	if !errors.Is(err, errTransient) {
		t.Errorf("retry() error = %v, want last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	permanent := &agenterrors.PlatformError{Kind: agenterrors.AuthenticationFailed}
	err := fastPolicy().retry(context.Background(), context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, nil)
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("retry() = %v after %d calls, want permanent error after 1", err, calls)
	}
}

func TestRetry_CanceledContextStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastPolicy().retry(ctx, context.Background(), func(context.Context) error {
		calls++
		cancel()
		return errTransient
	}, nil)
	if err == nil || calls != 1 {
		t.Errorf("retry() = %v after %d calls, want error after 1", err, calls)
	}
}

func TestRetry_SkipsBackoffPastDeadline(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	calls := 0
	_ = p.retry(ctx, ctx, func(context.Context) error {
		calls++
		return errTransient
	}, nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("retry waited %v for a backoff it could not finish", elapsed)
	}
}

func TestRetry_AttemptContextIsDetached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attemptCtx := context.WithoutCancel(ctx)

	err := fastPolicy().retry(ctx, attemptCtx, func(ctx context.Context) error {
		return ctx.Err()
	}, nil)
	if err != nil {
		t.Errorf("attempt saw cancellation: %v", err)
	}
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.backoff(1)
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered backoff(1) = %v, want within [100ms, 150ms]", d)
		}
	}
}
