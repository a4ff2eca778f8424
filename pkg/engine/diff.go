package engine

import (
	"sort"
	"time"

	"github.com/lmsync/lmsync/pkg/stores"
)

// ComputeDiff compares a fresh source snapshot against the stored sync
// record and returns the ordered actions required to reconcile the
// destination. Either argument may be nil: a nil src means the identity
// disappeared from the source, a nil rec means it has never been synced.
//
// Rules, in fixed precedence:
//  1. src present, rec absent (or never created) -> [create]; nothing else.
//  2. src absent, rec present and not archived   -> [archive].
//  3. src absent, rec archived                   -> [] (already settled).
//  4. src present, rec archived                  -> [reactivate] first,
//     then the field comparisons below against the last-seen values.
//  5. submission state change -> complete or reopen.
//  6. due date change (including to/from none) -> update_due_date.
//  7. title change -> update_title.
//  8. nothing produced -> [noop], explicit so callers can distinguish
//     "checked, nothing to do" from "not evaluated".
//
// The function is pure: no I/O, no clock, no mutation of its arguments.
func ComputeDiff(src *SourceRecord, rec *stores.SyncRecord) []Action {
	switch {
	case src == nil && rec == nil:
		return nil

	case src == nil:
		if rec.IsArchived {
			return []Action{}
		}
		return []Action{{Type: ActionArchive, Key: rec.Key, TaskID: rec.TaskID}}

	case rec == nil || !rec.IsSynced():
		// A brand-new identity cannot also have a "changed" field.
		return []Action{{Type: ActionCreate, Key: src.Key, Record: src}}
	}

	actions := []Action{}

	if rec.IsArchived {
		actions = append(actions, Action{Type: ActionReactivate, Key: src.Key, TaskID: rec.TaskID, Record: src})
	}

	// Completion state: at most one of complete/reopen per run.
	switch {
	case src.Submitted() && !rec.WasSubmitted():
		actions = append(actions, Action{Type: ActionComplete, Key: src.Key, TaskID: rec.TaskID})
	case !src.Submitted() && rec.WasSubmitted():
		actions = append(actions, Action{Type: ActionReopen, Key: src.Key, TaskID: rec.TaskID})
	}

	if !sameDate(src.DueDate, rec.LastSeenDueDate) {
		actions = append(actions, Action{Type: ActionUpdateDueDate, Key: src.Key, TaskID: rec.TaskID, NewDueDate: src.DueDate})
	}

	if src.Title != rec.LastSeenTitle {
		actions = append(actions, Action{Type: ActionUpdateTitle, Key: src.Key, TaskID: rec.TaskID, NewTitle: src.Title})
	}

	if len(actions) == 0 {
		return []Action{{Type: ActionNoOp, Key: src.Key}}
	}

	return actions
}

// StaleKeys returns the previously synced identities that are absent from
// the current source snapshot, in deterministic order. These drive the
// archive pass.
func StaleKeys(current map[stores.Key]struct{}, synced map[stores.Key]struct{}) []stores.Key {
	stale := []stores.Key{}
	for key := range synced {
		if _, ok := current[key]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].CourseID != stale[j].CourseID {
			return stale[i].CourseID < stale[j].CourseID
		}
		return stale[i].AssignmentID < stale[j].AssignmentID
	})
	return stale
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
