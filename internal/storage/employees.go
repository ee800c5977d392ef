package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// --- Employees ---

func (s *Store) CreateEmployee(ctx context.Context, e Employee) error {
	perms := e.Permissions
	if perms == nil {
		perms = []string{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("encoding permissions: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO employees (id, username, name, password_hash, role, permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Username, e.Name, e.PasswordHash, e.Role, string(permsJSON), created.UTC().Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("employee %q: %w", e.Username, ErrConflict)
	}
	return err
}

func (s *Store) GetEmployeeByUsername(ctx context.Context, username string) (Employee, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, name, password_hash, role, permissions, created_at
		FROM employees WHERE username = ?`, username)
	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return Employee{}, ErrNotFound
	}
	return e, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, name, password_hash, role, permissions, created_at
		FROM employees ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(sc scanner) (Employee, error) {
	var e Employee
	var perms, createdAt string
	if err := sc.Scan(&e.ID, &e.Username, &e.Name, &e.PasswordHash, &e.Role, &perms, &createdAt); err != nil {
		return Employee{}, err
	}
	if err := json.Unmarshal([]byte(perms), &e.Permissions); err != nil {
		return Employee{}, fmt.Errorf("decoding permissions for %s: %w", e.Username, err)
	}
	var err error
	if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Employee{}, err
	}
	return e, nil
}
