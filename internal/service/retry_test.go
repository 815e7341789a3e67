package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestInvokerBackoffBound(t *testing.T) {
	sleeper := &recordingSleeper{}
	invoker := NewInvoker().WithSleeper(sleeper.Sleep)

	calls := 0
	err := invoker.Do(context.Background(), RetryPolicy{MaxRetries: 3, InitialDelay: 2 * time.Second}, func(ctx context.Context) error {
		calls++
		return &InferenceError{Transient: true, StatusCode: 429, Err: errors.New("rate limited")}
	})

	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	var total time.Duration
	for _, w := range sleeper.waits {
		total += w
	}
	if total != 2*time.Second*(1+2+4) {
		t.Fatalf("expected total wait 14s, got %v (%v)", total, sleeper.waits)
	}
	if !IsRetriesExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	var inferenceErr *InferenceError
	if !errors.As(err, &inferenceErr) || inferenceErr.Attempts != 4 || !inferenceErr.Transient {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestInvokerTerminalErrorPropagatesImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	invoker := NewInvoker().WithSleeper(sleeper.Sleep)

	sentinel := errors.New("bad request")
	calls := 0
	err := invoker.Do(context.Background(), DefaultRetryPolicy, func(ctx context.Context) error {
		calls++
		return sentinel
	})

	if calls != 1 || len(sleeper.waits) != 0 {
		t.Fatalf("terminal error should not retry: calls=%d waits=%v", calls, sleeper.waits)
	}
	if IsRetriesExhausted(err) || !errors.Is(err, sentinel) {
		t.Fatalf("expected immediate terminal failure wrapping sentinel, got %v", err)
	}
}

func TestInvokerDoesNotMutateOperationError(t *testing.T) {
	cause := errors.New("invalid schema")
	opErr := &InferenceError{StatusCode: 400, Err: cause}

	err := NewInvoker().Do(context.Background(), DefaultRetryPolicy, func(ctx context.Context) error {
		return opErr
	})

	if opErr.Attempts != 0 {
		t.Fatalf("operation error was modified: attempts=%d", opErr.Attempts)
	}
	var got *InferenceError
	if !errors.As(err, &got) || got == opErr {
		t.Fatalf("expected a new InferenceError, got %#v", err)
	}
	if got.Attempts != 1 || got.StatusCode != 400 || got.Transient || got.Exhausted {
		t.Fatalf("unexpected wrapped error: %#v", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error should keep the cause, got %v", err)
	}
}

func TestInvokeRecoversAfterTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	invoker := NewInvoker().WithSleeper(sleeper.Sleep)

	calls := 0
	value, err := Invoke(context.Background(), invoker, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("Resource has been exhausted (e.g. check quota).")
		}
		return "ok", nil
	})
	if err != nil || value != "ok" {
		t.Fatalf("expected success after retries, got %q %v", value, err)
	}
	if len(sleeper.waits) != 2 || sleeper.waits[0] != time.Second || sleeper.waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits %v", sleeper.waits)
	}
}

func TestInvokerStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	invoker := NewInvoker().WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	err := invoker.Do(ctx, RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("429 Too Many Requests")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestInvokerRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewInvoker().Do(ctx, RetryPolicy{MaxRetries: 1, InitialDelay: time.Minute}, func(ctx context.Context) error {
		return errors.New("quota exceeded")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("sleep did not observe context deadline")
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("HTTP 429"), true},
		{errors.New("daily QUOTA reached"), true},
		{errors.New("invalid argument"), false},
		{&InferenceError{Transient: false, Err: errors.New("429 inside terminal")}, false},
		{&InferenceError{Transient: true, Err: errors.New("slow down")}, true},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
