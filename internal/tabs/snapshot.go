package tabs

import (
	"errors"
	"fmt"
)

// Snapshot is the persisted form of a workspace.
type Snapshot struct {
	Kind   Kind   `json:"kind"`
	Active string `json:"active"`
	Seq    int    `json:"seq"`
	Tabs   []Tab  `json:"tabs"`
}

// Snapshot captures the workspace state.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{Kind: w.kind, Active: w.active, Seq: w.seq, Tabs: make([]Tab, len(w.tabs))}
	for i, t := range w.tabs {
		s.Tabs[i] = t.clone()
	}
	return s
}

// Restore replaces the workspace state with s. Tabs saved mid-commit come
// back idle. Restore fails while any current tab is submitting.
func (w *Workspace) Restore(s Snapshot) error {
	if s.Kind != w.kind {
		return fmt.Errorf("restoring %s workspace from %s snapshot", w.kind, s.Kind)
	}
	if len(s.Tabs) == 0 {
		return errors.New("restoring workspace: snapshot has no tabs")
	}

	w.mu.Lock()
	for _, t := range w.tabs {
		if t.Status == StatusSubmitting {
			w.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrTabBusy, t.ID)
		}
	}

	removed := make([]Tab, len(w.tabs))
	for i, t := range w.tabs {
		removed[i] = t.clone()
	}

	tabs := make([]*Tab, len(s.Tabs))
	created := make([]Tab, len(s.Tabs))
	active := s.Tabs[0].ID
	for i := range s.Tabs {
		t := s.Tabs[i].clone()
		t.Kind = w.kind
		if t.Status == StatusSubmitting {
			t.Status = StatusIdle
		}
		for j := range t.Lines {
			t.Lines[j].recompute()
		}
		if t.ID == s.Active {
			active = t.ID
		}
		tabs[i] = &t
		created[i] = t.clone()
	}
	w.tabs = tabs
	w.active = active
	w.seq = max(s.Seq, len(tabs))
	w.mu.Unlock()

	w.emit(created, removed)
	return nil
}
