package tabs

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kalambet/rxdesk/internal/inventory"
)

// Result is what a committer reports back.
type Result struct {
	Reference string          `json:"reference"`
	Total     decimal.Decimal `json:"total"`
	// FailedLines lists line keys the backend could not persist.
	FailedLines []string `json:"failed_lines,omitempty"`
	// Deltas overrides the stock changes applied after commit. Nil means
	// one negative delta per line.
	Deltas []inventory.Delta `json:"deltas,omitempty"`
}

// Committer persists a tab.
type Committer interface {
	Commit(ctx context.Context, t Tab) (Result, error)
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(ctx context.Context, t Tab) (Result, error)

func (f CommitFunc) Commit(ctx context.Context, t Tab) (Result, error) { return f(ctx, t) }

// InventorySink receives stock changes after a successful commit.
type InventorySink interface {
	ApplyDeltas(ctx context.Context, warehouseID string, deltas []inventory.Delta) error
}

type event int

const (
	eventCommitted event = iota
	eventClosed
)

type action int

const (
	actionRemove action = iota
	actionReset
)

type cleanupKey struct {
	ev   event
	last bool
}

// cleanup decides what happens to a tab that was committed or closed. The
// last remaining tab is always reset so the workspace never empties.
var cleanup = map[cleanupKey]action{
	{eventCommitted, false}: actionRemove,
	{eventCommitted, true}:  actionReset,
	{eventClosed, false}:    actionRemove,
	{eventClosed, true}:     actionReset,
}

// cleanupLocked applies the cleanup transition to the tab at i and returns
// the removed tab, if any.
func (w *Workspace) cleanupLocked(i int, ev event) []Tab {
	t := w.tabs[i]
	switch cleanup[cleanupKey{ev: ev, last: len(w.tabs) == 1}] {
	case actionReset:
		t.reset()
		w.active = t.ID
		return nil
	default:
		removed := t.clone()
		w.tabs = append(w.tabs[:i], w.tabs[i+1:]...)
		if w.active == t.ID {
			w.active = w.tabs[max(0, i-1)].ID
		}
		return []Tab{removed}
	}
}

// Commit sends the tab to c. The tab is marked submitting while c runs; a
// second Commit on it fails with ErrTabBusy. On success the stock deltas go
// to the inventory sink and the tab is removed, or reset if it is the only
// one. On failure the tab keeps its lines and records the error.
func (w *Workspace) Commit(ctx context.Context, id string, c Committer) (Result, error) {
	w.mu.Lock()
	i, err := w.indexLocked(id)
	if err != nil {
		w.mu.Unlock()
		return Result{}, err
	}
	t := w.tabs[i]
	if t.Status == StatusSubmitting {
		w.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrTabBusy, t.ID)
	}
	t.Status = StatusSubmitting
	t.LastError = ""
	snap := t.clone()
	w.mu.Unlock()

	res, err := c.Commit(ctx, snap)
	if err != nil {
		w.mu.Lock()
		t.Status = StatusError
		t.LastError = err.Error()
		w.mu.Unlock()
		w.logger.Warn("commit failed", "kind", string(w.kind), "tab_id", snap.ID, "error", err)
		return res, err
	}

	if len(res.FailedLines) > 0 {
		w.logger.Warn("commit partially failed", "kind", string(w.kind), "tab_id", snap.ID,
			"reference", res.Reference, "failed_lines", len(res.FailedLines))
	}

	if w.sink != nil && snap.WarehouseID != "" {
		deltas := res.Deltas
		if deltas == nil {
			deltas = Deltas(snap)
		}
		if err := w.sink.ApplyDeltas(ctx, snap.WarehouseID, deltas); err != nil {
			w.logger.Warn("applying stock deltas", "tab_id", snap.ID, "error", err)
		}
	}

	w.mu.Lock()
	var removed []Tab
	if i, err := w.indexLocked(snap.ID); err == nil {
		removed = w.cleanupLocked(i, eventCommitted)
	}
	w.mu.Unlock()
	w.emit(nil, removed)

	w.logger.Info("tab committed", "kind", string(w.kind), "tab_id", snap.ID, "reference", res.Reference)
	return res, nil
}
