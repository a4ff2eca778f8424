package stores

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SubmissionState mirrors the Canvas submission state we last told the
// destination about.
type SubmissionState string

const (
	SubmissionStateNotSubmitted SubmissionState = "not_submitted"
	SubmissionStateSubmitted    SubmissionState = "submitted"
)

// Key is the composite identity of one Canvas assignment. It is stable
// across renames and due-date changes.
type Key struct {
	CourseID     int64 `json:"course_id"`
	AssignmentID int64 `json:"assignment_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.CourseID, k.AssignmentID)
}

// SyncRecord is the durable memory of what the destination task list was
// last told for a given assignment identity. One row per Key.
type SyncRecord struct {
	Key Key `json:"key"`

	// TaskID is the Microsoft Graph task id. Empty until the first
	// successful create; no update may target a record without it.
	TaskID string `json:"task_id,omitempty"`

	LastSeenSubmissionState SubmissionState `json:"last_seen_submission_state"`

	// LastSeenDueDate is nil when the assignment has no due date.
	LastSeenDueDate *time.Time `json:"last_seen_due_date,omitempty"`

	LastSeenTitle string `json:"last_seen_title"`

	LastSyncedAt time.Time `json:"last_synced_at"`

	// IsArchived marks an identity that disappeared from Canvas. Archived
	// records are never deleted.
	IsArchived bool `json:"is_archived"`

	CreatedAt time.Time `json:"created_at"`
}

// WasSubmitted reports whether the destination task was last set completed.
func (r *SyncRecord) WasSubmitted() bool {
	return r.LastSeenSubmissionState == SubmissionStateSubmitted
}

// IsSynced reports whether a destination task exists for this record.
func (r *SyncRecord) IsSynced() bool {
	return r.TaskID != ""
}

// ErrNotFound is returned by point lookups when no record exists for the key.
var ErrNotFound = errors.New("sync record not found")

// Counts summarizes the store for status reporting.
type Counts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Archived  int `json:"archived"`
	Submitted int `json:"submitted"`
	Pending   int `json:"pending"`
}

// Store defines the persistence layer for sync records.
//
// Durability contract: once Upsert returns nil the record survives process
// termination. The store assumes a single writer per run; concurrent
// readers are fine.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Get performs a point lookup. Returns ErrNotFound when the identity
	// has never been synced.
	Get(ctx context.Context, key Key) (*SyncRecord, error)

	// GetByTaskID resolves a record from its destination task id.
	GetByTaskID(ctx context.Context, taskID string) (*SyncRecord, error)

	// Upsert atomically writes the full record, last-write-wins on Key.
	Upsert(ctx context.Context, rec *SyncRecord) error

	// ListActive returns all non-archived records ordered by key.
	ListActive(ctx context.Context) ([]*SyncRecord, error)

	// ListAll returns every record, archived included, ordered by key.
	ListAll(ctx context.Context) ([]*SyncRecord, error)

	// SyncedKeys returns the identities that have a destination task and
	// are not archived. This is the anti-join input for archive detection.
	SyncedKeys(ctx context.Context) (map[Key]struct{}, error)

	// Counts aggregates record counts for status output.
	Counts(ctx context.Context) (*Counts, error)

	// Clear removes every record. Destructive; used by tests and reset.
	Clear(ctx context.Context) error

	// HealthCheck verifies the underlying database is reachable.
	HealthCheck(ctx context.Context) error
}
