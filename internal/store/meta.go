package store

import (
	"database/sql"
	"fmt"
)

// Keys used in the meta table.
const (
	MetaGuestImportDone = "guest_import_done"
	MetaLastSyncError   = "last_sync_error"
)

// MetaStore is a small key-value table for device-level flags.
type MetaStore struct {
	db dbtx
}

func NewMetaStore(db *sql.DB) *MetaStore {
	return &MetaStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *MetaStore) WithTx(tx *sql.Tx) *MetaStore {
	return &MetaStore{db: tx}
}

// Get returns the value for a key, or "" if the key is not set.
func (s *MetaStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// Set stores a value under a key, replacing any previous value.
func (s *MetaStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *MetaStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete meta %s: %w", key, err)
	}
	return nil
}
