package engine

import (
	"context"
	"fmt"
	"time"
)

// fakeClock advances a fixed amount per Now call and records every sleep
// instead of blocking.
type fakeClock struct {
	now      time.Time
	sleeps   []time.Duration
	sleepErr error
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	if c.sleepErr != nil {
		return c.sleepErr
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// fakeDest records every destination call and fails according to
// per-method error queues.
type fakeDest struct {
	calls        []string
	errs         map[string][]error
	refreshErr   error
	refreshCalls int
	listID       string
	nextTask     int
}

func newFakeDest() *fakeDest {
	return &fakeDest{errs: map[string][]error{}, listID: "list-1"}
}

func (d *fakeDest) failWith(method string, errs ...error) {
	d.errs[method] = append(d.errs[method], errs...)
}

func (d *fakeDest) pop(method string) error {
	queue := d.errs[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	d.errs[method] = queue[1:]
	return err
}

func (d *fakeDest) EnsureTaskList(_ context.Context, name string) (string, error) {
	d.calls = append(d.calls, "ensure_list:"+name)
	if err := d.pop("ensure_list"); err != nil {
		return "", err
	}
	return d.listID, nil
}

func (d *fakeDest) CreateTask(_ context.Context, listID string, rec *SourceRecord) (string, error) {
	d.calls = append(d.calls, fmt.Sprintf("create:%s:%s", listID, rec.Key))
	if err := d.pop("create"); err != nil {
		return "", err
	}
	d.nextTask++
	return fmt.Sprintf("task-%d", d.nextTask), nil
}

func (d *fakeDest) SetCompletion(_ context.Context, listID, taskID string, completed bool) error {
	d.calls = append(d.calls, fmt.Sprintf("set_completion:%s:%s:%v", listID, taskID, completed))
	return d.pop("set_completion")
}

func (d *fakeDest) UpdateDueDate(_ context.Context, listID, taskID string, due *time.Time) error {
	d.calls = append(d.calls, fmt.Sprintf("update_due:%s:%s", listID, taskID))
	return d.pop("update_due")
}

func (d *fakeDest) UpdateTitle(_ context.Context, listID, taskID, title string) error {
	d.calls = append(d.calls, fmt.Sprintf("update_title:%s:%s:%s", listID, taskID, title))
	return d.pop("update_title")
}

func (d *fakeDest) Archive(_ context.Context, listID, taskID string) error {
	d.calls = append(d.calls, fmt.Sprintf("archive:%s:%s", listID, taskID))
	return d.pop("archive")
}

func (d *fakeDest) Unarchive(_ context.Context, listID, taskID string) error {
	d.calls = append(d.calls, fmt.Sprintf("unarchive:%s:%s", listID, taskID))
	return d.pop("unarchive")
}

func (d *fakeDest) RefreshCredentials(_ context.Context) error {
	d.refreshCalls++
	return d.refreshErr
}
