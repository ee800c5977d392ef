// Package reconcile refreshes the in-memory inventory projection from the
// database after commits, through the SQLite job queue.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/rxdesk/internal/inventory"
	"github.com/kalambet/rxdesk/internal/storage"
)

// JobType is the queue type handled by Worker.
const JobType = "inventory_reconcile"

// JobStore abstracts the job queue operations and the stock source.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	StockLevels(ctx context.Context, warehouseID string) (map[string]int64, error)
}

// Replacer overwrites a warehouse's projected levels.
type Replacer interface {
	Replace(ctx context.Context, warehouseID string, levels inventory.Levels) error
}

type payload struct {
	WarehouseID string `json:"warehouse_id"`
}

// NewJob builds a reconcile job for warehouseID.
func NewJob(warehouseID string) (storage.Job, error) {
	b, err := json.Marshal(payload{WarehouseID: warehouseID})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{ID: uuid.NewString(), Type: JobType, PayloadJSON: string(b)}, nil
}

// Worker processes inventory_reconcile jobs from the SQLite job queue.
type Worker struct {
	store      JobStore
	projection Replacer
	poll       time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, projection Replacer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:      store,
		projection: projection,
		poll:       pollInterval,
		logger:     slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reconcile job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.WarehouseID == "" {
		return errors.New("payload has no warehouse_id")
	}

	levels, err := w.store.StockLevels(ctx, p.WarehouseID)
	if err != nil {
		return fmt.Errorf("loading stock for %s: %w", p.WarehouseID, err)
	}
	if err := w.projection.Replace(ctx, p.WarehouseID, levels); err != nil {
		return err
	}
	w.logger.Debug("inventory reconciled", "warehouse", p.WarehouseID, "products", len(levels))
	return nil
}
