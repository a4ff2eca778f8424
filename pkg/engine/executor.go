package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lmsync/lmsync/pkg/telemetry"
)

// Executor turns one action into at most one kind of destination call,
// classifies the outcome, and retries throttled/transient failures with
// backoff. It never batches actions and never touches the store.
type Executor struct {
	dest    Destination
	listID  string
	policy  RetryPolicy
	clock   Clock
	dryRun  bool
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// ExecutorConfig wires an Executor for one run.
type ExecutorConfig struct {
	Destination Destination

	// ListID is the destination task list, resolved once per run.
	ListID string

	Policy RetryPolicy
	Clock  Clock
	DryRun bool

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// NewExecutor creates an executor. Zero-value policy and clock fall back
// to defaults.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}

	return &Executor{
		dest:    cfg.Destination,
		listID:  cfg.ListID,
		policy:  cfg.Policy,
		clock:   cfg.Clock,
		dryRun:  cfg.DryRun,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Apply executes a single action against the destination and reports a
// definitive outcome. In dry-run mode every non-noop action yields
// SkippedDryRun without any destination call.
func (e *Executor) Apply(ctx context.Context, action Action) Outcome {
	if action.IsNoOp() {
		return Outcome{Status: OutcomeApplied}
	}

	if e.dryRun {
		e.log.WithField("key", action.Key.String()).
			Infof("dry run: would apply %s", action.Type)
		return Outcome{Status: OutcomeSkippedDryRun}
	}

	start := e.clock.Now()
	outcome := e.applyWithRetry(ctx, action)
	if e.metrics != nil {
		e.metrics.ObserveAction(string(action.Type), string(outcome.Status), e.clock.Now().Sub(start))
		if outcome.Err != nil {
			e.metrics.CountError(string(outcome.Err.Class))
		}
	}
	return outcome
}

func (e *Executor) applyWithRetry(ctx context.Context, action Action) Outcome {
	attempts := 0
	authRetried := false

	for {
		attempts++

		taskID, err := e.invoke(ctx, action)
		if err == nil {
			return Outcome{Status: OutcomeApplied, TaskID: taskID, Attempts: attempts}
		}

		serr := classify(err)

		if IsAuthExpired(serr) {
			// One silent refresh per action; a second rejection is final.
			if authRetried {
				return e.failed(action, attempts,
					NewPermanentError("credential rejected after refresh", serr).
						WithCode(ErrCodeAuthExpired))
			}
			authRetried = true

			e.log.WithField("key", action.Key.String()).
				Warn("credential rejected, refreshing and retrying once")
			if rerr := e.dest.RefreshCredentials(ctx); rerr != nil {
				return e.failed(action, attempts,
					NewPermanentError("credential refresh failed", rerr).
						WithCode(ErrCodeAuthExpired))
			}
			continue
		}

		if !IsRetryable(serr) || attempts >= e.policy.MaxAttempts {
			return e.failed(action, attempts, serr)
		}

		delay := e.policy.Backoff(attempts-1, RetryAfterHint(serr))
		e.log.WithField("key", action.Key.String()).
			WithError(serr).
			Warnf("retrying %s in %s (attempt %d/%d)", action.Type, delay, attempts, e.policy.MaxAttempts)

		if sleepErr := e.clock.Sleep(ctx, delay); sleepErr != nil {
			return e.failed(action, attempts,
				NewTransientError("interrupted while waiting to retry", sleepErr).
					WithCode(ErrCodeTimeout))
		}
	}
}

// invoke maps an action to exactly one destination call.
func (e *Executor) invoke(ctx context.Context, action Action) (string, error) {
	switch action.Type {
	case ActionCreate:
		return e.dest.CreateTask(ctx, e.listID, action.Record)
	case ActionComplete:
		return "", e.dest.SetCompletion(ctx, e.listID, action.TaskID, true)
	case ActionReopen:
		return "", e.dest.SetCompletion(ctx, e.listID, action.TaskID, false)
	case ActionUpdateDueDate:
		return "", e.dest.UpdateDueDate(ctx, e.listID, action.TaskID, action.NewDueDate)
	case ActionUpdateTitle:
		return "", e.dest.UpdateTitle(ctx, e.listID, action.TaskID, action.NewTitle)
	case ActionArchive:
		return "", e.dest.Archive(ctx, e.listID, action.TaskID)
	case ActionReactivate:
		return "", e.dest.Unarchive(ctx, e.listID, action.TaskID)
	default:
		return "", NewPermanentError(fmt.Sprintf("unknown action type %q", action.Type), nil).
			WithCode(ErrCodeInternal)
	}
}

func (e *Executor) failed(action Action, attempts int, serr *SyncError) Outcome {
	e.log.WithField("key", action.Key.String()).
		WithError(serr).
		Errorf("action %s failed after %d attempt(s)", action.Type, attempts)
	return Outcome{Status: OutcomeFailed, Attempts: attempts, Err: serr}
}

// classify normalizes any error into a SyncError. Unclassified errors are
// treated as transient so plain network failures from the HTTP layer are
// retried.
func classify(err error) *SyncError {
	var serr *SyncError
	if errors.As(err, &serr) {
		return serr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("call aborted", err).WithCode(ErrCodeTimeout)
	}
	return NewTransientError("destination call failed", err)
}
