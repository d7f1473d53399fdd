package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithContext_SuccessAfterRetries(t *testing.T) {
	calls := 0
	result, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result != 99 || calls != 3 {
		t.Fatalf("expected 99 after 3 calls, got %d after %d", result, calls)
	}
}

func TestRetryWithContext_PersistentFailure(t *testing.T) {
	calls := 0
	want := errors.New("permanent")
	_, err := RetryWithContext(context.Background(), 4, func(ctx context.Context) (string, error) {
		calls++
		return "", want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestRetryWithContext_MaxTriesZeroOrNegative(t *testing.T) {
	for _, tries := range []int{0, -1} {
		calls := 0
		_, _ = RetryWithContext(context.Background(), tries, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		if calls != 1 {
			t.Fatalf("maxTries=%d: expected 1 call, got %d", tries, calls)
		}
	}
}

func TestRetryWithContext_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryWithContext(ctx, 3, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}

func TestRetryErrWithContext_FunctionReturnsContextError(t *testing.T) {
	calls := 0
	err := RetryErrWithContext(context.Background(), 5, func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("context errors must not be retried, got %d calls", calls)
	}
}

func TestRetryWithBackoff_StopsWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	start := time.Now()
	_, err := RetryWithBackoff(ctx, 10, time.Second, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before the deadline, got %d", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("backoff ignored the context deadline")
	}
}
