package engine

import (
	"context"
	"testing"
	"time"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		name    string
		attempt int
		hint    time.Duration
		want    time.Duration
	}{
		{"first retry", 0, 0, time.Second},
		{"second retry doubles", 1, 0, 2 * time.Second},
		{"third retry doubles again", 2, 0, 4 * time.Second},
		{"capped at max delay", 4, 0, 10 * time.Second},
		{"hint overrides schedule", 0, 30 * time.Second, 30 * time.Second},
		{"hint overrides cap", 3, 45 * time.Second, 45 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Backoff(tt.attempt, tt.hint); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRetryPolicy_BackoffNoCap(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second}

	if got := policy.Backoff(6, 0); got != 64*time.Second {
		t.Errorf("Expected uncapped 64s, got %v", got)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", policy.MaxAttempts)
	}
	if policy.BaseDelay != time.Second {
		t.Errorf("Expected 1s base delay, got %v", policy.BaseDelay)
	}
}

func TestSystemClock_SleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SystemClock().Sleep(ctx, time.Minute)
	if err == nil {
		t.Fatal("Expected error from canceled context")
	}
}

func TestSystemClock_SleepZeroDuration(t *testing.T) {
	if err := SystemClock().Sleep(context.Background(), 0); err != nil {
		t.Errorf("Expected nil for zero duration, got %v", err)
	}
}
