package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SetRuntimeKey upserts a gated-skill secret in the runtime vault.
func (d *DB) SetRuntimeKey(key, value string) error {
	_, err := d.conn.Exec(`
		INSERT INTO runtime_keys (key, value, created_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("set runtime key %s: %w", key, err)
	}
	return nil
}

// GetRuntimeKey fetches a secret, returning (nil, nil) if unset.
func (d *DB) GetRuntimeKey(key string) (*RuntimeKey, error) {
	row := d.conn.QueryRow(`SELECT key, value, created_at FROM runtime_keys WHERE key=?`, key)
	rk := &RuntimeKey{}
	var createdAt int64
	err := row.Scan(&rk.Key, &rk.Value, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get runtime key %s: %w", key, err)
	}
	rk.CreatedAt = fromMillis(createdAt)
	return rk, nil
}

// DeleteRuntimeKey removes a secret.
func (d *DB) DeleteRuntimeKey(key string) error {
	if _, err := d.conn.Exec(`DELETE FROM runtime_keys WHERE key=?`, key); err != nil {
		return fmt.Errorf("delete runtime key %s: %w", key, err)
	}
	return nil
}
