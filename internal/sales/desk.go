package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/rxdesk/internal/mutation"
	"github.com/kalambet/rxdesk/internal/query"
	"github.com/kalambet/rxdesk/internal/storage"
	"github.com/kalambet/rxdesk/internal/tabs"
)

// SnapshotStore is the snapshot store name holding saved workspaces.
const SnapshotStore = "workspaces"

// CommitKey addresses the commit mutation of one employee's tab. Desks share
// a registry, so the employee is part of the key.
func CommitKey(employeeID string, kind tabs.Kind, tabID string) query.Key {
	return query.K("commit", employeeID, string(kind), tabID)
}

// Desk is one employee's POS and order workspaces. Every tab owns a commit
// mutation in the shared registry for as long as the tab exists.
type Desk struct {
	employeeID string
	store      Store
	registry   *mutation.Registry
	logger     *slog.Logger

	workspaces map[tabs.Kind]*tabs.Workspace
	committers map[tabs.Kind]tabs.Committer

	mu   sync.Mutex
	regs map[string]*mutation.Registration
}

// NewDesk creates a desk with one empty tab per workspace.
func NewDesk(employeeID string, store Store, registry *mutation.Registry, sink tabs.InventorySink, logger *slog.Logger) *Desk {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Desk{
		employeeID: employeeID,
		store:      store,
		registry:   registry,
		logger:     logger,
		workspaces: make(map[tabs.Kind]*tabs.Workspace, 2),
		committers: map[tabs.Kind]tabs.Committer{
			tabs.KindPOS:   NewPaymentCommitter(store, employeeID),
			tabs.KindOrder: NewOrderCommitter(store, employeeID, logger),
		},
		regs: make(map[string]*mutation.Registration),
	}

	for _, kind := range []tabs.Kind{tabs.KindPOS, tabs.KindOrder} {
		opts := []tabs.Option{
			tabs.WithLogger(logger),
			tabs.WithHooks(tabs.Hooks{
				Created: func(t tabs.Tab) { d.register(kind, t.ID) },
				Removed: func(t tabs.Tab) { d.unregister(kind, t.ID) },
			}),
		}
		if sink != nil {
			opts = append(opts, tabs.WithInventory(sink))
		}
		d.workspaces[kind] = tabs.NewWorkspace(kind, opts...)
	}
	return d
}

// EmployeeID returns the desk owner.
func (d *Desk) EmployeeID() string { return d.employeeID }

// Workspace returns the workspace of kind.
func (d *Desk) Workspace(kind tabs.Kind) (*tabs.Workspace, bool) {
	ws, ok := d.workspaces[kind]
	return ws, ok
}

func (d *Desk) register(kind tabs.Kind, tabID string) {
	key := CommitKey(d.employeeID, kind, tabID)
	reg, err := d.registry.Register(key, mutation.Handler{
		OnSubmit: func(ctx context.Context, _ any) (any, error) {
			return d.workspaces[kind].Commit(ctx, tabID, d.committers[kind])
		},
	})
	if err != nil {
		d.logger.Error("registering commit handler", "key", key.String(), "error", err)
		return
	}
	d.mu.Lock()
	d.regs[key.String()] = reg
	d.mu.Unlock()
}

func (d *Desk) unregister(kind tabs.Kind, tabID string) {
	key := CommitKey(d.employeeID, kind, tabID).String()
	d.mu.Lock()
	reg, ok := d.regs[key]
	delete(d.regs, key)
	d.mu.Unlock()
	if ok {
		reg.Unregister()
	}
}

// Commit submits the tab's commit mutation. An empty tabID means the
// active tab. Tabs of other desks are reported as not found.
func (d *Desk) Commit(ctx context.Context, kind tabs.Kind, tabID string) (tabs.Result, error) {
	ws, ok := d.workspaces[kind]
	if !ok {
		return tabs.Result{}, fmt.Errorf("unknown workspace kind %q", kind)
	}
	if tabID == "" {
		tabID = ws.ActiveID()
	}
	if _, err := ws.Tab(tabID); err != nil {
		return tabs.Result{}, err
	}
	out, err := d.registry.Submit(ctx, CommitKey(d.employeeID, kind, tabID), nil)
	if errors.Is(err, mutation.ErrNoHandler) {
		return tabs.Result{}, fmt.Errorf("%w: %s", tabs.ErrTabNotFound, tabID)
	}
	res, _ := out.(tabs.Result)
	return res, err
}

// CommitState returns the commit state of one of this desk's tabs. The state
// outlives the tab, so a committed and removed tab still reports its result.
func (d *Desk) CommitState(kind tabs.Kind, tabID string) mutation.State {
	return d.registry.State(CommitKey(d.employeeID, kind, tabID))
}

// Close releases every commit registration held by the desk.
func (d *Desk) Close() {
	d.mu.Lock()
	regs := d.regs
	d.regs = make(map[string]*mutation.Registration)
	d.mu.Unlock()
	for _, reg := range regs {
		reg.Unregister()
	}
}

func (d *Desk) snapshotKey(kind tabs.Kind) string {
	return d.employeeID + "/" + string(kind)
}

// Save persists both workspaces.
func (d *Desk) Save(ctx context.Context) error {
	for kind, ws := range d.workspaces {
		b, err := json.Marshal(ws.Snapshot())
		if err != nil {
			return fmt.Errorf("encoding %s workspace: %w", kind, err)
		}
		if err := d.store.PutSnapshot(ctx, SnapshotStore, d.snapshotKey(kind), b); err != nil {
			return fmt.Errorf("saving %s workspace: %w", kind, err)
		}
	}
	return nil
}

// Restore loads saved workspaces. Kinds with nothing saved are left as they are.
func (d *Desk) Restore(ctx context.Context) error {
	for kind, ws := range d.workspaces {
		b, err := d.store.GetSnapshot(ctx, SnapshotStore, d.snapshotKey(kind))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading %s workspace: %w", kind, err)
		}
		var snap tabs.Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return fmt.Errorf("decoding %s workspace: %w", kind, err)
		}
		if err := ws.Restore(snap); err != nil {
			return err
		}
	}
	return nil
}
