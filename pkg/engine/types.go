package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lmsync/lmsync/pkg/stores"
)

// SourceRecord is a point-in-time snapshot of one assignment from the
// system of record. Produced fresh each run, discarded after diffing.
type SourceRecord struct {
	Key             stores.Key             `json:"key"`
	Title           string                 `json:"title"`
	DueDate         *time.Time             `json:"due_date,omitempty"`
	SubmissionState stores.SubmissionState `json:"submission_state"`
	SourceURL       string                 `json:"source_url"`
}

// Submitted reports whether the snapshot counts as submitted.
func (r *SourceRecord) Submitted() bool {
	return r.SubmissionState == stores.SubmissionStateSubmitted
}

// ActionType enumerates the closed set of destination-changing operations
// the diff engine can emit.
type ActionType string

const (
	ActionCreate        ActionType = "create"
	ActionComplete      ActionType = "complete"
	ActionReopen        ActionType = "reopen"
	ActionUpdateDueDate ActionType = "update_due_date"
	ActionUpdateTitle   ActionType = "update_title"
	ActionArchive       ActionType = "archive"
	ActionReactivate    ActionType = "reactivate"
	ActionNoOp          ActionType = "noop"
)

// Action is a single required state-changing operation for one identity,
// produced by the diff engine and consumed exactly once by the executor.
type Action struct {
	Type ActionType `json:"type"`
	Key  stores.Key `json:"key"`

	// TaskID is the destination task every non-create action targets,
	// stamped from the stored record at diff time.
	TaskID string `json:"task_id,omitempty"`

	// Record carries the full snapshot for create and reactivate.
	Record *SourceRecord `json:"record,omitempty"`

	// NewDueDate is the payload for update_due_date. Nil clears the date.
	NewDueDate *time.Time `json:"new_due_date,omitempty"`

	// NewTitle is the payload for update_title.
	NewTitle string `json:"new_title,omitempty"`
}

// IsNoOp reports whether the action requires no destination call.
func (a Action) IsNoOp() bool {
	return a.Type == ActionNoOp
}

// OutcomeStatus is the definitive result of applying one action.
type OutcomeStatus string

const (
	OutcomeApplied       OutcomeStatus = "applied"
	OutcomeSkippedDryRun OutcomeStatus = "skipped_dry_run"
	OutcomeFailed        OutcomeStatus = "failed"
)

// Outcome reports what the executor did with one action.
type Outcome struct {
	Status OutcomeStatus `json:"status"`

	// TaskID is the destination task id produced by a create.
	TaskID string `json:"task_id,omitempty"`

	// Attempts is how many destination calls were made, retries included.
	Attempts int `json:"attempts"`

	// Err is the classified failure when Status is OutcomeFailed.
	Err *SyncError `json:"error,omitempty"`
}

// Source is the collaborator that produces fresh assignment snapshots.
// It owns its own transport retry policy; the engine treats a returned
// error as fatal to the run.
type Source interface {
	FetchActiveAssignments(ctx context.Context) ([]*SourceRecord, error)
}

// Destination is the capability set the executor uses to effect changes
// on the task list. Every call maps to exactly one API operation and may
// return the classified errors of this package. Archive is a tag, never a
// delete.
type Destination interface {
	EnsureTaskList(ctx context.Context, name string) (string, error)
	CreateTask(ctx context.Context, listID string, rec *SourceRecord) (string, error)
	SetCompletion(ctx context.Context, listID, taskID string, completed bool) error
	UpdateDueDate(ctx context.Context, listID, taskID string, due *time.Time) error
	UpdateTitle(ctx context.Context, listID, taskID, title string) error
	Archive(ctx context.Context, listID, taskID string) error
	Unarchive(ctx context.Context, listID, taskID string) error

	// RefreshCredentials silently re-acquires the credential after an
	// auth rejection. Called at most once per action.
	RefreshCredentials(ctx context.Context) error
}

// Clock abstracts time for the retry policy so backoff is testable
// without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IdentityFailure attributes a failed action to its identity in the run
// summary.
type IdentityFailure struct {
	Key    stores.Key `json:"key"`
	Action ActionType `json:"action"`
	Err    *SyncError `json:"error"`
}

// Summary aggregates the per-category counts of one run. It is always
// produced, even when some identities failed.
type Summary struct {
	RunID string `json:"run_id"`

	TotalAssignments int `json:"total_assignments"`

	Created        int `json:"created"`
	Completed      int `json:"completed"`
	Reopened       int `json:"reopened"`
	DueDateUpdated int `json:"due_date_updated"`
	TitleUpdated   int `json:"title_updated"`
	Archived       int `json:"archived"`
	Reactivated    int `json:"reactivated"`
	SkippedDryRun  int `json:"skipped_dry_run"`
	Unchanged      int `json:"unchanged"`
	Failed         int `json:"failed"`

	// Planned counts the actions that would have been applied, by type.
	// Populated in dry-run and check modes only.
	Planned map[ActionType]int `json:"planned,omitempty"`

	Failures []IdentityFailure `json:"failures,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// HasFailures reports whether any identity ended in a failed outcome.
func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}

func (s *Summary) String() string {
	return fmt.Sprintf(
		"%d assignments: %d created, %d completed, %d reopened, %d due dates, %d titles, %d archived, %d reactivated, %d unchanged, %d skipped, %d failed (%s)",
		s.TotalAssignments, s.Created, s.Completed, s.Reopened,
		s.DueDateUpdated, s.TitleUpdated, s.Archived, s.Reactivated,
		s.Unchanged, s.SkippedDryRun, s.Failed,
		s.Duration.Round(time.Millisecond),
	)
}
