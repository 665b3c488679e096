// Package snapshot creates and restores encrypted copies of the local
// database. A snapshot is a consistent VACUUM'd copy of the SQLite file
// sealed with a passphrase, suitable for moving a device's offline state to
// another machine.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager produces and restores database snapshots.
type Manager struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewManager creates a Manager for the database at dbPath.
func NewManager(db *sql.DB, dbPath string, logger *slog.Logger) *Manager {
	return &Manager{db: db, dbPath: dbPath, logger: logger}
}

// Create writes an encrypted snapshot of the live database to dstPath.
// VACUUM INTO produces a consistent copy without blocking writers, so the
// daemon can keep running while the snapshot is taken.
func (m *Manager) Create(ctx context.Context, dstPath, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), "snapshot-*.db")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // VACUUM INTO refuses to overwrite an existing file
	defer os.Remove(tmpPath)

	start := time.Now()
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", tmpPath); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}

	plaintext, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("read snapshot copy: %w", err)
	}

	sealed, err := seal(plaintext, passphrase)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dstPath, sealed, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	m.logger.Info("snapshot created",
		"path", dstPath,
		"size_bytes", len(sealed),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Restore decrypts a snapshot file and writes the plain database to dstPath.
// It refuses to overwrite an existing file; the caller decides what to do
// with the current database.
func (m *Manager) Restore(srcPath, dstPath, passphrase string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("restore target %s already exists", dstPath)
	}

	sealed, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	plaintext, err := open(sealed, passphrase)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dstPath, plaintext, 0600); err != nil {
		return fmt.Errorf("write database: %w", err)
	}

	m.logger.Info("snapshot restored", "from", srcPath, "to", dstPath)
	return nil
}
