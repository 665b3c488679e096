package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/satchel/internal/model"
)

// ListStore persists the device-local copy of lists.
type ListStore struct {
	db  dbtx
	now func() int64
}

func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db, now: nowMillis}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *ListStore) WithTx(tx *sql.Tx) *ListStore {
	return &ListStore{db: tx, now: s.now}
}

const listCols = `local_id, server_id, name, created_at, updated_at, dirty, deleted`

func scanList(scanner interface{ Scan(...any) error }) (*model.List, error) {
	var l model.List
	var serverID sql.NullString
	var dirty, deleted int

	err := scanner.Scan(&l.LocalID, &serverID, &l.Name, &l.CreatedAt, &l.UpdatedAt, &dirty, &deleted)
	if err != nil {
		return nil, err
	}

	l.ServerID = serverID.String
	l.Dirty = dirty != 0
	l.Deleted = deleted != 0
	return &l, nil
}

// Create inserts a new list. The name must be non-empty after trimming.
func (s *ListStore) Create(localID, name string) (*model.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	now := s.now()
	_, err := s.db.Exec(
		`INSERT INTO lists (local_id, name, created_at, updated_at, dirty, deleted) VALUES (?, ?, ?, ?, 1, 0)`,
		localID, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert list: %w", err)
	}
	return s.Get(localID)
}

// Get returns a list by local id, tombstones included. Nil if no row exists.
func (s *ListStore) Get(localID string) (*model.List, error) {
	row := s.db.QueryRow(`SELECT `+listCols+` FROM lists WHERE local_id = ?`, localID)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// Lists returns all non-deleted lists in creation order.
func (s *ListStore) Lists() ([]model.List, error) {
	rows, err := s.db.Query(`SELECT ` + listCols + ` FROM lists WHERE deleted = 0 ORDER BY created_at ASC, local_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []model.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

// Rename updates the list name, bumps its logical timestamp and marks it
// dirty. Nil if the list does not exist or is deleted.
func (s *ListStore) Rename(localID, name string) (*model.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	result, err := s.db.Exec(
		`UPDATE lists SET name = ?, updated_at = MAX(?, updated_at + 1), dirty = 1 WHERE local_id = ? AND deleted = 0`,
		name, s.now(), localID,
	)
	if err != nil {
		return nil, fmt.Errorf("rename list: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return nil, nil
	}
	return s.Get(localID)
}

// SoftDelete tombstones the list and cascades the tombstone to its items.
// The rows survive until the delete mutation is confirmed synced.
func (s *ListStore) SoftDelete(localID string) error {
	now := s.now()
	_, err := s.db.Exec(
		`UPDATE lists SET deleted = 1, dirty = 1, updated_at = MAX(?, updated_at + 1) WHERE local_id = ?`,
		now, localID,
	)
	if err != nil {
		return fmt.Errorf("soft delete list: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE items SET deleted = 1, dirty = 1, updated_at = MAX(?, updated_at + 1) WHERE list_local_id = ?`,
		now, localID,
	)
	if err != nil {
		return fmt.Errorf("soft delete list items: %w", err)
	}
	return nil
}

// AttachServerID records the server-assigned id, clears the dirty flag, and
// propagates the id to every child item's list_server_id.
func (s *ListStore) AttachServerID(localID, serverID string) error {
	_, err := s.db.Exec(
		`UPDATE lists SET server_id = ?, dirty = 0 WHERE local_id = ?`,
		serverID, localID,
	)
	if err != nil {
		return fmt.Errorf("attach server list id: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE items SET list_server_id = ? WHERE list_local_id = ?`,
		serverID, localID,
	)
	if err != nil {
		return fmt.Errorf("propagate server list id: %w", err)
	}
	return nil
}

// MarkClean clears the dirty flag without touching anything else.
func (s *ListStore) MarkClean(localID string) error {
	if _, err := s.db.Exec(`UPDATE lists SET dirty = 0 WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("mark list clean: %w", err)
	}
	return nil
}

// Purge physically removes a tombstoned list. Child items go with it via the
// foreign key cascade.
func (s *ListStore) Purge(localID string) error {
	if _, err := s.db.Exec(`DELETE FROM lists WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("purge list: %w", err)
	}
	return nil
}
