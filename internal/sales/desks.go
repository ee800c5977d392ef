package sales

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/kalambet/rxdesk/internal/mutation"
	"github.com/kalambet/rxdesk/internal/tabs"
)

// Desks hands out one Desk per employee, restoring saved workspaces the
// first time an employee is seen.
type Desks struct {
	store    Store
	registry *mutation.Registry
	sink     tabs.InventorySink
	logger   *slog.Logger

	mu    sync.Mutex
	desks map[string]*Desk
}

func NewDesks(store Store, registry *mutation.Registry, sink tabs.InventorySink, logger *slog.Logger) *Desks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desks{
		store:    store,
		registry: registry,
		sink:     sink,
		logger:   logger,
		desks:    make(map[string]*Desk),
	}
}

// For returns employeeID's desk.
func (ds *Desks) For(ctx context.Context, employeeID string) (*Desk, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if d, ok := ds.desks[employeeID]; ok {
		return d, nil
	}
	d := NewDesk(employeeID, ds.store, ds.registry, ds.sink, ds.logger.With("employee_id", employeeID))
	if err := d.Restore(ctx); err != nil {
		d.Close()
		return nil, err
	}
	ds.desks[employeeID] = d
	return d, nil
}

// Employees returns the IDs of employees with an open desk, sorted.
func (ds *Desks) Employees() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ids := make([]string, 0, len(ds.desks))
	for id := range ds.desks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SaveAll persists every open desk. It keeps going past failures and
// returns them joined.
func (ds *Desks) SaveAll(ctx context.Context) error {
	ds.mu.Lock()
	desks := make([]*Desk, 0, len(ds.desks))
	for _, d := range ds.desks {
		desks = append(desks, d)
	}
	ds.mu.Unlock()

	var errs []error
	for _, d := range desks {
		if err := d.Save(ctx); err != nil {
			ds.logger.Warn("saving desk", "employee_id", d.EmployeeID(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
