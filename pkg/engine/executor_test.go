package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestExecutor(dest *fakeDest, clock *fakeClock, dryRun bool) *Executor {
	return NewExecutor(ExecutorConfig{
		Destination: dest,
		ListID:      "list-1",
		Policy:      RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
		Clock:       clock,
		DryRun:      dryRun,
	})
}

func createAction() Action {
	return Action{Type: ActionCreate, Key: testKey(), Record: testSource(nil)}
}

func TestExecutor_Apply_NoOp(t *testing.T) {
	dest := newFakeDest()
	exec := newTestExecutor(dest, newFakeClock(), false)

	outcome := exec.Apply(context.Background(), Action{Type: ActionNoOp, Key: testKey()})

	if outcome.Status != OutcomeApplied {
		t.Errorf("Expected applied, got %s", outcome.Status)
	}
	if len(dest.calls) != 0 {
		t.Errorf("Expected no destination calls, got %v", dest.calls)
	}
}

func TestExecutor_Apply_DryRun(t *testing.T) {
	dest := newFakeDest()
	exec := newTestExecutor(dest, newFakeClock(), true)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeSkippedDryRun {
		t.Errorf("Expected skipped_dry_run, got %s", outcome.Status)
	}
	if len(dest.calls) != 0 {
		t.Errorf("Expected no destination calls in dry run, got %v", dest.calls)
	}
}

func TestExecutor_Apply_CreateSuccess(t *testing.T) {
	dest := newFakeDest()
	exec := newTestExecutor(dest, newFakeClock(), false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeApplied {
		t.Fatalf("Expected applied, got %s (%v)", outcome.Status, outcome.Err)
	}
	if outcome.TaskID != "task-1" {
		t.Errorf("Expected task-1, got %q", outcome.TaskID)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", outcome.Attempts)
	}
}

func TestExecutor_Apply_RetriesTransient(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewTransientError("503", nil))
	clock := newFakeClock()
	exec := newTestExecutor(dest, clock, false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeApplied {
		t.Fatalf("Expected applied after retry, got %s (%v)", outcome.Status, outcome.Err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", outcome.Attempts)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != time.Second {
		t.Errorf("Expected one 1s backoff, got %v", clock.sleeps)
	}
}

func TestExecutor_Apply_BackoffDoubles(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create",
		NewTransientError("503", nil),
		NewTransientError("503", nil),
	)
	clock := newFakeClock()
	exec := newTestExecutor(dest, clock, false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeApplied {
		t.Fatalf("Expected applied, got %s", outcome.Status)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != want[0] || clock.sleeps[1] != want[1] {
		t.Errorf("Expected backoffs %v, got %v", want, clock.sleeps)
	}
}

func TestExecutor_Apply_HonorsRetryAfter(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewThrottledError("429", 17*time.Second, nil))
	clock := newFakeClock()
	exec := newTestExecutor(dest, clock, false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeApplied {
		t.Fatalf("Expected applied, got %s", outcome.Status)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 17*time.Second {
		t.Errorf("Expected Retry-After hint of 17s to win, got %v", clock.sleeps)
	}
}

func TestExecutor_Apply_PermanentFailsImmediately(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewPermanentError("422", nil))
	clock := newFakeClock()
	exec := newTestExecutor(dest, clock, false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", outcome.Status)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Expected 1 attempt for permanent error, got %d", outcome.Attempts)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("Expected no backoff for permanent error, got %v", clock.sleeps)
	}
}

func TestExecutor_Apply_ExhaustsRetries(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create",
		NewTransientError("503", nil),
		NewTransientError("503", nil),
		NewTransientError("503", nil),
	)
	exec := newTestExecutor(dest, newFakeClock(), false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeFailed {
		t.Fatalf("Expected failed after exhaustion, got %s", outcome.Status)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", outcome.Attempts)
	}
	if !IsTransient(outcome.Err) {
		t.Errorf("Expected transient classification, got %v", outcome.Err)
	}
}

func TestExecutor_Apply_AuthRefreshOnce(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewAuthError("401", nil))
	clock := newFakeClock()
	exec := newTestExecutor(dest, clock, false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeApplied {
		t.Fatalf("Expected applied after refresh, got %s (%v)", outcome.Status, outcome.Err)
	}
	if dest.refreshCalls != 1 {
		t.Errorf("Expected 1 credential refresh, got %d", dest.refreshCalls)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("Expected auth retry without backoff, got %v", clock.sleeps)
	}
}

func TestExecutor_Apply_SecondAuthRejectionIsFatal(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewAuthError("401", nil), NewAuthError("401", nil))
	exec := newTestExecutor(dest, newFakeClock(), false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", outcome.Status)
	}
	if dest.refreshCalls != 1 {
		t.Errorf("Expected exactly 1 refresh, got %d", dest.refreshCalls)
	}
	if outcome.Err.Code != ErrCodeAuthExpired {
		t.Errorf("Expected code %s, got %s", ErrCodeAuthExpired, outcome.Err.Code)
	}
	if !IsPermanent(outcome.Err) {
		t.Errorf("Expected permanent classification, got %v", outcome.Err.Class)
	}
}

func TestExecutor_Apply_RefreshFailureIsFatal(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewAuthError("401", nil))
	dest.refreshErr = errors.New("refresh token revoked")
	exec := newTestExecutor(dest, newFakeClock(), false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", outcome.Status)
	}
	if !IsPermanent(outcome.Err) {
		t.Errorf("Expected permanent classification, got %v", outcome.Err.Class)
	}
}

func TestExecutor_Apply_InterruptedBackoff(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", NewTransientError("503", nil))
	clock := newFakeClock()
	clock.sleepErr = context.Canceled
	exec := newTestExecutor(dest, clock, false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeFailed {
		t.Fatalf("Expected failed on interrupted backoff, got %s", outcome.Status)
	}
	if outcome.Err.Code != ErrCodeTimeout {
		t.Errorf("Expected code %s, got %s", ErrCodeTimeout, outcome.Err.Code)
	}
}

func TestExecutor_Apply_UnclassifiedErrorIsRetried(t *testing.T) {
	dest := newFakeDest()
	dest.failWith("create", errors.New("connection reset"))
	exec := newTestExecutor(dest, newFakeClock(), false)

	outcome := exec.Apply(context.Background(), createAction())

	if outcome.Status != OutcomeApplied {
		t.Fatalf("Expected plain errors to be retried as transient, got %s", outcome.Status)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", outcome.Attempts)
	}
}

func TestExecutor_Apply_ActionRouting(t *testing.T) {
	due := datePtr(2026, time.October, 1)
	tests := []struct {
		name     string
		action   Action
		wantCall string
	}{
		{"complete", Action{Type: ActionComplete, Key: testKey(), TaskID: "t1"}, "set_completion:list-1:t1:true"},
		{"reopen", Action{Type: ActionReopen, Key: testKey(), TaskID: "t1"}, "set_completion:list-1:t1:false"},
		{"due date", Action{Type: ActionUpdateDueDate, Key: testKey(), TaskID: "t1", NewDueDate: due}, "update_due:list-1:t1"},
		{"title", Action{Type: ActionUpdateTitle, Key: testKey(), TaskID: "t1", NewTitle: "x"}, "update_title:list-1:t1:x"},
		{"archive", Action{Type: ActionArchive, Key: testKey(), TaskID: "t1"}, "archive:list-1:t1"},
		{"reactivate", Action{Type: ActionReactivate, Key: testKey(), TaskID: "t1"}, "unarchive:list-1:t1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := newFakeDest()
			exec := newTestExecutor(dest, newFakeClock(), false)

			outcome := exec.Apply(context.Background(), tt.action)

			if outcome.Status != OutcomeApplied {
				t.Fatalf("Expected applied, got %s", outcome.Status)
			}
			if len(dest.calls) != 1 || dest.calls[0] != tt.wantCall {
				t.Errorf("Expected call %q, got %v", tt.wantCall, dest.calls)
			}
		})
	}
}

func TestExecutor_Apply_UnknownActionType(t *testing.T) {
	exec := newTestExecutor(newFakeDest(), newFakeClock(), false)

	outcome := exec.Apply(context.Background(), Action{Type: ActionType("bogus"), Key: testKey()})

	if outcome.Status != OutcomeFailed {
		t.Fatalf("Expected failed, got %s", outcome.Status)
	}
	if outcome.Err.Code != ErrCodeInternal {
		t.Errorf("Expected code %s, got %s", ErrCodeInternal, outcome.Err.Code)
	}
}
