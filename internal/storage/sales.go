package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// --- Sales ---

// SaveSale records a sale with its lines, takes the sold quantities out of
// the sale's warehouse and enqueues follow-up jobs, all in one transaction.
func (s *Store) SaveSale(ctx context.Context, sale Sale, followUp ...Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning sale transaction: %w", err)
	}
	defer tx.Rollback()

	created := sale.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	stamp := s.timestamp()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, tab_id, employee_id, customer_id, warehouse_id, payment_method, subtotal, discount, tax, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.TabID, sale.EmployeeID, sale.CustomerID, sale.WarehouseID, sale.PaymentMethod,
		sale.Subtotal, sale.Discount, sale.Tax, sale.Total, created.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("inserting sale: %w", err)
	}

	for i, l := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, lot_id, quantity, unit_price, total_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sale.ID, i+1, l.ProductID, l.LotID, l.Quantity, l.UnitPrice, l.TotalPrice,
		); err != nil {
			return fmt.Errorf("inserting sale line %d: %w", i+1, err)
		}
		if err := decrementStock(ctx, tx, sale.WarehouseID, l.ProductID, l.Quantity, stamp); err != nil {
			return err
		}
	}

	for _, j := range followUp {
		if err := enqueueJob(ctx, tx, s.now().UTC(), j); err != nil {
			return fmt.Errorf("enqueueing %s job: %w", j.Type, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSale(ctx context.Context, id string) (Sale, error) {
	var sale Sale
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tab_id, employee_id, customer_id, warehouse_id, payment_method, subtotal, discount, tax, total, created_at
		FROM sales WHERE id = ?`, id,
	).Scan(&sale.ID, &sale.TabID, &sale.EmployeeID, &sale.CustomerID, &sale.WarehouseID, &sale.PaymentMethod,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &createdAt)
	if err == sql.ErrNoRows {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	if sale.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Sale{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, lot_id, quantity, unit_price, total_price
		FROM sale_lines WHERE sale_id = ? ORDER BY line_no ASC`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ProductID, &l.LotID, &l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return Sale{}, err
		}
		sale.Lines = append(sale.Lines, l)
	}
	return sale, rows.Err()
}

// CountSales returns the number of recorded sales.
func (s *Store) CountSales(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&n)
	return n, err
}

// --- Orders ---

// CreateOrder inserts an order header. Lines are added separately.
func (s *Store) CreateOrder(ctx context.Context, o Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	status := o.Status
	if status == "" {
		status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, tab_id, employee_id, customer_id, warehouse_id, location_id, status, total, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TabID, o.EmployeeID, o.CustomerID, o.WarehouseID, o.LocationID, status, o.Total, o.Notes,
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

// AddOrderLine inserts a line and reserves its quantity from warehouseID.
func (s *Store) AddOrderLine(ctx context.Context, warehouseID string, l OrderLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning order line transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price, total_price)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrderID, l.ProductID, l.Quantity, l.UnitPrice, l.TotalPrice,
	); err != nil {
		return fmt.Errorf("inserting order line: %w", err)
	}
	if err := decrementStock(ctx, tx, warehouseID, l.ProductID, l.Quantity, s.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetOrderStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (Order, error) {
	var o Order
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tab_id, employee_id, customer_id, warehouse_id, location_id, status, total, notes, created_at
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.TabID, &o.EmployeeID, &o.CustomerID, &o.WarehouseID, &o.LocationID, &o.Status, &o.Total, &o.Notes, &createdAt)
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if o.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Order{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, total_price
		FROM order_lines WHERE order_id = ? ORDER BY product_id ASC`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}
