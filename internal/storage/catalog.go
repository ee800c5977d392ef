package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// --- Products ---

// UpsertProduct inserts p or updates the product with the same ID.
func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	unit := p.Unit
	if unit == "" {
		unit = "pcs"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, unit, price, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sku = excluded.sku, name = excluded.name, unit = excluded.unit, price = excluded.price`,
		p.ID, p.SKU, p.Name, unit, p.Price, created.UTC().Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("product sku %q: %w", p.SKU, ErrConflict)
	}
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, sku, name, unit, price, created_at FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.Price, &createdAt)
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ListProducts returns products ordered by name.
func (s *Store) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sku, name, unit, price, created_at FROM products ORDER BY name ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var createdAt string
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.Price, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Stock ---

// SetStock sets the on-hand quantity of a product in a warehouse.
func (s *Store) SetStock(ctx context.Context, warehouseID, productID string, qty int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (warehouse_id, product_id, quantity, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(warehouse_id, product_id) DO UPDATE SET quantity = excluded.quantity, updated_at = excluded.updated_at`,
		warehouseID, productID, qty, s.timestamp(),
	)
	return err
}

// StockLevels returns product quantities for a warehouse.
func (s *Store) StockLevels(ctx context.Context, warehouseID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, quantity FROM stock_levels WHERE warehouse_id = ?`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

// decrementStock removes qty of a product from a warehouse inside tx.
// It fails with ErrInsufficientStock rather than going negative.
func decrementStock(ctx context.Context, tx *sql.Tx, warehouseID, productID string, qty int64, stamp string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE stock_levels SET quantity = quantity - ?, updated_at = ?
		WHERE warehouse_id = ? AND product_id = ? AND quantity >= ?`,
		qty, stamp, warehouseID, productID, qty,
	)
	if err != nil {
		return fmt.Errorf("decrementing stock for %s: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %s in %s: %w", productID, warehouseID, ErrInsufficientStock)
	}
	return nil
}
