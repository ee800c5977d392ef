// Package sales commits POS carts and B2B orders to storage and keeps one
// pair of tab workspaces per employee.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/rxdesk/internal/inventory"
	"github.com/kalambet/rxdesk/internal/reconcile"
	"github.com/kalambet/rxdesk/internal/storage"
	"github.com/kalambet/rxdesk/internal/tabs"
)

var (
	ErrEmptyTab        = errors.New("tab has no lines")
	ErrNoPaymentMethod = errors.New("payment method is required")
	ErrNoWarehouse     = errors.New("warehouse is required")
	ErrNoCustomer      = errors.New("customer is required")
	ErrAllLinesFailed  = errors.New("no order line could be placed")
)

// Store is the persistence used by committers and desks.
type Store interface {
	SaveSale(ctx context.Context, sale storage.Sale, followUp ...storage.Job) error
	CreateOrder(ctx context.Context, o storage.Order) error
	AddOrderLine(ctx context.Context, warehouseID string, l storage.OrderLine) error
	SetOrderStatus(ctx context.Context, id, status string) error
	PutSnapshot(ctx context.Context, store, key string, value []byte) error
	GetSnapshot(ctx context.Context, store, key string) ([]byte, error)
}

// PaymentCommitter records a POS cart as a paid sale.
type PaymentCommitter struct {
	store      Store
	employeeID string
}

func NewPaymentCommitter(store Store, employeeID string) *PaymentCommitter {
	return &PaymentCommitter{store: store, employeeID: employeeID}
}

// Commit saves the sale, takes stock and queues a reconcile of the
// warehouse, in one transaction.
func (c *PaymentCommitter) Commit(ctx context.Context, t tabs.Tab) (tabs.Result, error) {
	switch {
	case len(t.Lines) == 0:
		return tabs.Result{}, ErrEmptyTab
	case t.PaymentMethod == "":
		return tabs.Result{}, ErrNoPaymentMethod
	case t.WarehouseID == "":
		return tabs.Result{}, ErrNoWarehouse
	}

	totals := tabs.ComputeTotals(t)
	sale := storage.Sale{
		ID:            uuid.NewString(),
		TabID:         t.ID,
		EmployeeID:    c.employeeID,
		CustomerID:    t.Party,
		WarehouseID:   t.WarehouseID,
		PaymentMethod: t.PaymentMethod,
		Subtotal:      totals.Subtotal,
		Discount:      totals.DiscountAmount,
		Tax:           totals.TaxAmount,
		Total:         totals.TotalAmount,
		Lines:         make([]storage.SaleLine, 0, len(t.Lines)),
	}
	for _, l := range t.Lines {
		sale.Lines = append(sale.Lines, storage.SaleLine{
			ProductID:  l.EntityID,
			LotID:      l.LotID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			TotalPrice: l.TotalPrice,
		})
	}

	job, err := reconcile.NewJob(t.WarehouseID)
	if err != nil {
		return tabs.Result{}, fmt.Errorf("building reconcile job: %w", err)
	}
	if err := c.store.SaveSale(ctx, sale, job); err != nil {
		return tabs.Result{}, fmt.Errorf("saving sale: %w", err)
	}
	return tabs.Result{Reference: sale.ID, Total: totals.TotalAmount}, nil
}

// OrderCommitter places a B2B order. The header is written first and the
// lines concurrently after it; lines that fail are reported, not rolled back.
type OrderCommitter struct {
	store      Store
	employeeID string
	limit      int
	logger     *slog.Logger
}

func NewOrderCommitter(store Store, employeeID string, logger *slog.Logger) *OrderCommitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderCommitter{store: store, employeeID: employeeID, limit: 4, logger: logger}
}

func (c *OrderCommitter) Commit(ctx context.Context, t tabs.Tab) (tabs.Result, error) {
	switch {
	case len(t.Lines) == 0:
		return tabs.Result{}, ErrEmptyTab
	case t.Party == "":
		return tabs.Result{}, ErrNoCustomer
	case t.WarehouseID == "":
		return tabs.Result{}, ErrNoWarehouse
	}

	totals := tabs.ComputeTotals(t)
	order := storage.Order{
		ID:          uuid.NewString(),
		TabID:       t.ID,
		EmployeeID:  c.employeeID,
		CustomerID:  t.Party,
		WarehouseID: t.WarehouseID,
		LocationID:  t.LocationID,
		Total:       totals.TotalAmount,
		Notes:       t.Form["notes"],
	}
	if err := c.store.CreateOrder(ctx, order); err != nil {
		return tabs.Result{}, fmt.Errorf("creating order: %w", err)
	}

	lineErrs := make([]error, len(t.Lines))
	var g errgroup.Group
	g.SetLimit(c.limit) // Bound concurrency to keep the single SQLite connection fair.

	for i, l := range t.Lines {
		g.Go(func() error {
			lineErrs[i] = c.store.AddOrderLine(ctx, t.WarehouseID, storage.OrderLine{
				ID:         uuid.NewString(),
				OrderID:    order.ID,
				ProductID:  l.EntityID,
				Quantity:   l.Quantity,
				UnitPrice:  l.UnitPrice,
				TotalPrice: l.TotalPrice,
			})
			return nil
		})
	}
	g.Wait()

	res := tabs.Result{Reference: order.ID, Total: totals.TotalAmount, Deltas: []inventory.Delta{}}
	for i, err := range lineErrs {
		l := t.Lines[i]
		if err != nil {
			c.logger.Warn("order line failed", "order_id", order.ID, "line", l.Key, "product", l.EntityID, "error", err)
			res.FailedLines = append(res.FailedLines, l.Key)
			continue
		}
		res.Deltas = append(res.Deltas, inventory.Delta{EntityID: l.EntityID, QuantityChange: -l.Quantity})
	}

	status := "placed"
	switch {
	case len(res.FailedLines) == len(t.Lines):
		status = "failed"
	case len(res.FailedLines) > 0:
		status = "partial"
	}
	if err := c.store.SetOrderStatus(ctx, order.ID, status); err != nil {
		c.logger.Warn("setting order status", "order_id", order.ID, "error", err)
	}

	if status == "failed" {
		return res, fmt.Errorf("order %s: %w", order.ID, ErrAllLinesFailed)
	}
	return res, nil
}
