package storage

import (
	"context"
	"database/sql"
)

// --- Snapshots ---
//
// Snapshots are opaque values addressed by a named store and a key, used to
// carry session state such as open workspaces across restarts.

func (s *Store) PutSnapshot(ctx context.Context, store, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (store, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		store, key, value, s.timestamp(),
	)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, store, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM snapshots WHERE store = ? AND key = ?`, store, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *Store) DeleteSnapshot(ctx context.Context, store, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE store = ? AND key = ?`, store, key)
	return err
}

// SnapshotKeys lists the keys held in store.
func (s *Store) SnapshotKeys(ctx context.Context, store string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM snapshots WHERE store = ? ORDER BY key ASC`, store)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
