// Package graph provides the Microsoft Graph To Do client used as the
// sync destination.
package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/lmsync/lmsync/pkg/engine"
)

// Task status values understood by the To Do API.
const (
	statusNotStarted = "notStarted"
	statusCompleted  = "completed"
)

// archivedCategory tags tasks whose assignment disappeared from the
// source. Archive is a tag, never a delete.
const archivedCategory = "Archived"

// taskList is one of the user's To Do lists.
type taskList struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WellKnown   string `json:"wellknownListName,omitempty"`
}

type taskListPage struct {
	Value    []taskList `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

// dateTimeTimeZone is the Graph representation of a zoned timestamp.
// Due dates are date-only, so the time component is always midnight UTC.
type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func dueDatePayload(due *time.Time) *dateTimeTimeZone {
	if due == nil {
		return nil
	}
	return &dateTimeTimeZone{
		DateTime: due.UTC().Format("2006-01-02T00:00:00"),
		TimeZone: "UTC",
	}
}

type itemBody struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// todoTask is the wire shape of one task, trimmed to the fields the sync
// reads and writes.
type todoTask struct {
	ID          string            `json:"id,omitempty"`
	Title       string            `json:"title"`
	Status      string            `json:"status,omitempty"`
	Body        *itemBody         `json:"body,omitempty"`
	DueDateTime *dateTimeTimeZone `json:"dueDateTime,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
}

// newTaskPayload builds the create body for one assignment snapshot. The
// body carries the Canvas link so the task is navigable from To Do.
func newTaskPayload(rec *engine.SourceRecord) todoTask {
	status := statusNotStarted
	if rec.Submitted() {
		status = statusCompleted
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Canvas assignment %s", rec.Key)
	if rec.SourceURL != "" {
		fmt.Fprintf(&body, "\n%s", rec.SourceURL)
	}

	return todoTask{
		Title:  rec.Title,
		Status: status,
		Body: &itemBody{
			Content:     body.String(),
			ContentType: "text",
		},
		DueDateTime: dueDatePayload(rec.DueDate),
	}
}

// graphError is the error envelope Graph returns on failures.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
