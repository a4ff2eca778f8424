package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/lmsync/lmsync/pkg/stores"
	"github.com/lmsync/lmsync/pkg/telemetry"
)

// Mode selects how far a run goes.
type Mode string

const (
	// ModeApply performs the full fetch, diff, apply, persist cycle.
	ModeApply Mode = "apply"

	// ModeDryRun computes every diff but skips all destination calls and
	// all persistence. The preview is exact.
	ModeDryRun Mode = "dry-run"

	// ModeCheck performs fetch and diff only; no executor is constructed
	// and nothing is persisted. Used for status-style previews.
	ModeCheck Mode = "check"
)

// Options configures one Engine instance. All collaborators are injected;
// the engine holds no ambient state.
type Options struct {
	// TaskListName is the destination task list, resolved once per run.
	TaskListName string

	Mode  Mode
	Retry RetryPolicy
	Clock Clock

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Engine drives the reconciliation pipeline: fetch, per-identity diff,
// per-action apply, per-identity persist, plus an archive pass over
// stored identities missing from the fetch. One Engine runs one pipeline
// at a time; non-overlapping invocation is the caller's responsibility.
type Engine struct {
	source Source
	dest   Destination
	store  stores.Store
	opts   Options

	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	clock   Clock
}

// New creates a sync engine.
func New(source Source, dest Destination, store stores.Store, opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = ModeApply
	}
	if opts.TaskListName == "" {
		opts.TaskListName = "Canvas Assignments"
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger()
	}

	return &Engine{
		source:  source,
		dest:    dest,
		store:   store,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		clock:   opts.Clock,
	}
}

// Sync executes one full reconciliation run and returns its summary.
// The summary is produced even when identities failed; the returned
// error is non-nil only for fatal conditions (source unavailable,
// persistence failure, task list resolution failure).
func (e *Engine) Sync(ctx context.Context) (*Summary, error) {
	runID := uuid.New().String()
	log := e.log.WithRunID(runID)

	summary := &Summary{
		RunID:     runID,
		StartedAt: e.clock.Now(),
		Planned:   map[ActionType]int{},
	}

	e.metrics.CountRunStarted()

	ctx, span := e.tracer.StartRunSpan(ctx, runID, e.opts.Mode == ModeDryRun)
	defer span.End()

	switch e.opts.Mode {
	case ModeDryRun:
		log.Info("dry run: no changes will be made")
	case ModeCheck:
		log.Info("check mode: computing diffs only")
	}

	records, err := e.source.FetchActiveAssignments(ctx)
	if err != nil {
		e.finishRun(summary, "failed")
		return nil, NewPermanentError("failed to fetch assignments from source", err).
			WithCode(ErrCodeSourceFailed)
	}
	summary.TotalAssignments = len(records)
	log.Infof("fetched %d assignments from source", len(records))

	records = dedupe(records, log)

	var exec *Executor
	if e.opts.Mode != ModeCheck {
		listID := ""
		if e.opts.Mode == ModeApply {
			listID, err = e.dest.EnsureTaskList(ctx, e.opts.TaskListName)
			if err != nil {
				e.finishRun(summary, "failed")
				return nil, classify(err).WithOperation("ensure_task_list")
			}
			log.Debugf("using task list %q", e.opts.TaskListName)
		}

		exec = NewExecutor(ExecutorConfig{
			Destination: e.dest,
			ListID:      listID,
			Policy:      e.opts.Retry,
			Clock:       e.clock,
			DryRun:      e.opts.Mode == ModeDryRun,
			Logger:      log,
			Metrics:     e.metrics,
		})
	}

	currentKeys := make(map[stores.Key]struct{}, len(records))
	for _, rec := range records {
		currentKeys[rec.Key] = struct{}{}
	}

	// Pass 1: every identity present in the fetch.
	for _, src := range records {
		if err := e.reconcileIdentity(ctx, exec, src.Key, src, summary, log); err != nil {
			e.finishRun(summary, "failed")
			return summary, err
		}
	}

	// Pass 2: stored identities absent from the fetch (anti-join).
	syncedKeys, err := e.store.SyncedKeys(ctx)
	if err != nil {
		e.finishRun(summary, "failed")
		return summary, NewPermanentError("failed to list synced identities", err).
			WithCode(ErrCodePersistence)
	}

	for _, key := range StaleKeys(currentKeys, syncedKeys) {
		if err := e.reconcileIdentity(ctx, exec, key, nil, summary, log); err != nil {
			e.finishRun(summary, "failed")
			return summary, err
		}
	}

	status := "succeeded"
	if summary.HasFailures() {
		status = "partial"
	}
	e.finishRun(summary, status)

	if counts, cerr := e.store.Counts(ctx); cerr == nil {
		e.metrics.SetTrackedAssignments(counts.Active, counts.Archived)
	}

	log.Infof("sync complete: %s", summary)
	return summary, nil
}

// reconcileIdentity loads stored state, diffs, applies each action in
// order, and persists after every confirmed effect. A failed action stops
// this identity but never the run; persistence failures abort the run.
func (e *Engine) reconcileIdentity(
	ctx context.Context,
	exec *Executor,
	key stores.Key,
	src *SourceRecord,
	summary *Summary,
	log *telemetry.Logger,
) error {
	ctx, span := e.tracer.StartIdentitySpan(ctx, key.String())
	defer span.End()

	rec, err := e.store.Get(ctx, key)
	if err != nil && !errors.Is(err, stores.ErrNotFound) {
		return NewPermanentError("failed to load sync record", err).
			WithCode(ErrCodePersistence)
	}

	actions := ComputeDiff(src, rec)
	if len(actions) == 0 {
		return nil
	}

	for i := 0; i < len(actions); i++ {
		action := actions[i]

		if action.IsNoOp() {
			summary.Unchanged++
			continue
		}

		if e.opts.Mode == ModeCheck {
			summary.Planned[action.Type]++
			continue
		}

		outcome := exec.Apply(ctx, action)

		switch outcome.Status {
		case OutcomeSkippedDryRun:
			summary.SkippedDryRun++
			summary.Planned[action.Type]++

		case OutcomeFailed:
			// A vanished destination task during reactivation falls back
			// to creating a fresh one for the same identity.
			if action.Type == ActionReactivate && IsNotFound(outcome.Err) {
				log.WithField("key", key.String()).
					Warn("destination task gone, recreating")
				actions = []Action{
					{Type: ActionCreate, Key: key, Record: action.Record},
				}
				i = -1
				rec = nil
				continue
			}

			summary.Failed++
			summary.Failures = append(summary.Failures, IdentityFailure{
				Key:    key,
				Action: action.Type,
				Err:    outcome.Err,
			})
			return nil

		case OutcomeApplied:
			rec = e.mergeOutcome(rec, action, outcome)
			if err := e.store.Upsert(ctx, rec); err != nil {
				return NewPermanentError("failed to persist sync record", err).
					WithCode(ErrCodePersistence)
			}
			e.tally(summary, action.Type)
		}
	}

	return nil
}

// mergeOutcome folds a confirmed destination effect into the in-memory
// record before it is persisted.
func (e *Engine) mergeOutcome(rec *stores.SyncRecord, action Action, outcome Outcome) *stores.SyncRecord {
	now := e.clock.Now()

	if action.Type == ActionCreate {
		return &stores.SyncRecord{
			Key:                     action.Key,
			TaskID:                  outcome.TaskID,
			LastSeenSubmissionState: action.Record.SubmissionState,
			LastSeenDueDate:         action.Record.DueDate,
			LastSeenTitle:           action.Record.Title,
			LastSyncedAt:            now,
			CreatedAt:               now,
		}
	}

	updated := *rec
	switch action.Type {
	case ActionComplete:
		updated.LastSeenSubmissionState = stores.SubmissionStateSubmitted
	case ActionReopen:
		updated.LastSeenSubmissionState = stores.SubmissionStateNotSubmitted
	case ActionUpdateDueDate:
		updated.LastSeenDueDate = action.NewDueDate
	case ActionUpdateTitle:
		updated.LastSeenTitle = action.NewTitle
	case ActionArchive:
		updated.IsArchived = true
	case ActionReactivate:
		updated.IsArchived = false
	}
	updated.LastSyncedAt = now

	return &updated
}

func (e *Engine) tally(summary *Summary, t ActionType) {
	switch t {
	case ActionCreate:
		summary.Created++
	case ActionComplete:
		summary.Completed++
	case ActionReopen:
		summary.Reopened++
	case ActionUpdateDueDate:
		summary.DueDateUpdated++
	case ActionUpdateTitle:
		summary.TitleUpdated++
	case ActionArchive:
		summary.Archived++
	case ActionReactivate:
		summary.Reactivated++
	}
}

func (e *Engine) finishRun(summary *Summary, status string) {
	summary.Duration = e.clock.Now().Sub(summary.StartedAt)
	e.metrics.ObserveRun(status, summary.Duration)
}

// dedupe drops repeated identities from a fetch, keeping the first
// occurrence. Canvas should never produce duplicates; if it does, two
// diffs in one run would race on the same record.
func dedupe(records []*SourceRecord, log *telemetry.Logger) []*SourceRecord {
	seen := make(map[stores.Key]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		if _, dup := seen[rec.Key]; dup {
			log.Warnf("duplicate assignment %s in fetch, ignoring", rec.Key)
			continue
		}
		seen[rec.Key] = struct{}{}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.CourseID != out[j].Key.CourseID {
			return out[i].Key.CourseID < out[j].Key.CourseID
		}
		return out[i].Key.AssignmentID < out[j].Key.AssignmentID
	})
	return out
}
