// Package canvas provides the Canvas LMS client used as the source of
// record for assignment and submission state.
package canvas

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lmsync/lmsync/pkg/stores"
)

// Course is an enrolled Canvas course.
type Course struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Code            string `json:"course_code"`
	EnrollmentState string `json:"enrollment_state"`
}

// Submission is the current user's submission for one assignment.
type Submission struct {
	AssignmentID  int64      `json:"assignment_id"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	WorkflowState string     `json:"workflow_state"`
	Score         *float64   `json:"score"`
	Grade         *string    `json:"grade"`
}

// IsSubmitted reports whether the assignment counts as submitted. A
// non-nil submitted_at wins; otherwise the workflow state decides so that
// graded and pending-review work is not reopened.
func (s *Submission) IsSubmitted() bool {
	if s == nil {
		return false
	}
	if s.SubmittedAt != nil {
		return true
	}
	switch s.WorkflowState {
	case "submitted", "graded", "pending_review":
		return true
	}
	return false
}

// Assignment is a point-in-time snapshot of one Canvas assignment,
// produced fresh each run and discarded after diffing.
type Assignment struct {
	ID         int64      `json:"id"`
	CourseID   int64      `json:"course_id"`
	CourseName string     `json:"course_name,omitempty"`
	Name       string     `json:"name"`
	DueAt      *time.Time `json:"due_at"`
	HTMLURL    string     `json:"html_url"`
	Published  bool       `json:"published"`

	Submission *Submission `json:"submission,omitempty"`
}

// Key returns the stable composite identity of the assignment.
func (a *Assignment) Key() stores.Key {
	return stores.Key{CourseID: a.CourseID, AssignmentID: a.ID}
}

// DisplayTitle is the title pushed to the destination task. The course
// name prefix keeps tasks from different courses distinguishable.
func (a *Assignment) DisplayTitle() string {
	if a.CourseName == "" {
		return a.Name
	}
	return fmt.Sprintf("[%s] %s", a.CourseName, a.Name)
}

// IsSubmitted reports the submission state of the snapshot.
func (a *Assignment) IsSubmitted() bool {
	return a.Submission.IsSubmitted()
}

// SubmissionState maps the snapshot onto the stored enum.
func (a *Assignment) SubmissionState() stores.SubmissionState {
	if a.IsSubmitted() {
		return stores.SubmissionStateSubmitted
	}
	return stores.SubmissionStateNotSubmitted
}

// DueDate reduces the due timestamp to a UTC date, or nil when the
// assignment has no due date. Destination due dates are date-only.
func (a *Assignment) DueDate() *time.Time {
	if a.DueAt == nil {
		return nil
	}
	y, m, d := a.DueAt.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &day
}

// assignmentPayload tolerates the API's nullable fields during decoding.
type assignmentPayload struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	DueAt      *time.Time  `json:"due_at"`
	HTMLURL    string      `json:"html_url"`
	Published  *bool       `json:"published"`
	Submission *Submission `json:"submission"`
}

func decodeAssignment(raw json.RawMessage, course Course) (*Assignment, error) {
	var p assignmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed assignment: %w", err)
	}
	if p.ID <= 0 {
		return nil, fmt.Errorf("assignment id must be positive, got %d", p.ID)
	}

	published := true
	if p.Published != nil {
		published = *p.Published
	}

	return &Assignment{
		ID:         p.ID,
		CourseID:   course.ID,
		CourseName: course.Name,
		Name:       p.Name,
		DueAt:      p.DueAt,
		HTMLURL:    p.HTMLURL,
		Published:  published,
		Submission: p.Submission,
	}, nil
}
