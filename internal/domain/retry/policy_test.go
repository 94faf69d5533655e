package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"jan-server/services/research-api/internal/domain/retry"
)

func TestPolicy_Wait(t *testing.T) {
	tests := []struct {
		name    string
		policy  retry.Policy
		attempt int
		want    time.Duration
	}{
		{name: "before first retry", policy: retry.Linear(3, time.Second, nil), attempt: 0, want: 0},
		{name: "linear first retry", policy: retry.Linear(3, 1500*time.Millisecond, nil), attempt: 1, want: 1500 * time.Millisecond},
		{name: "linear second retry", policy: retry.Linear(3, 1500*time.Millisecond, nil), attempt: 2, want: 3 * time.Second},
		{name: "fixed", policy: retry.Fixed(3, 2*time.Second, nil), attempt: 2, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Wait(tt.attempt); got != tt.want {
				t.Errorf("Wait(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestLinear_ClampsAttempts(t *testing.T) {
	if got := retry.Linear(0, time.Second, nil).Attempts; got != 1 {
		t.Errorf("Linear(0).Attempts = %d, want 1", got)
	}
}

func TestDo(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		got, err := retry.Do(context.Background(), retry.Linear(3, time.Millisecond, nil), func(ctx context.Context, attempt int) (string, error) {
			calls++
			if attempt < 3 {
				return "", errTransient
			}
			return "J1", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "J1" || calls != 3 {
			t.Errorf("got %q after %d calls, want J1 after 3", got, calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		var retried []int
		_, err := retry.Do(context.Background(), retry.Fixed(3, time.Millisecond, nil), func(ctx context.Context, attempt int) (string, error) {
			calls++
			return "", errTransient
		}, func(attempt int, err error) {
			retried = append(retried, attempt)
		})
		if !errors.Is(err, errTransient) {
			t.Errorf("err = %v, want %v", err, errTransient)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
			t.Errorf("retry hook attempts = %v, want [1 2]", retried)
		}
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		policy := retry.Linear(3, time.Millisecond, func(err error) bool { return errors.Is(err, errTransient) })
		_, err := retry.Do(context.Background(), policy, func(ctx context.Context, attempt int) (string, error) {
			calls++
			return "", errFatal
		})
		if !errors.Is(err, errFatal) {
			t.Errorf("err = %v, want %v", err, errFatal)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retry.Do(ctx, retry.Linear(3, time.Second, nil), func(ctx context.Context, attempt int) (int, error) {
			return 1, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
