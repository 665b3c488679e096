package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukerupert/satchel/internal/model"
)

// ItemInput carries the caller-editable fields of an item.
type ItemInput struct {
	CatalogTermID string
	Text          string
	Quantity      float64
	Unit          model.Unit
	Checked       bool
	Category      string
	Extra         map[string]string
}

// ItemStore persists the device-local copy of items. Every item write also
// bumps the owning list's logical timestamp and marks it dirty, so the sync
// engine can detect a list needing refresh independent of per-item churn.
type ItemStore struct {
	db  dbtx
	now func() int64
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, now: nowMillis}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *ItemStore) WithTx(tx *sql.Tx) *ItemStore {
	return &ItemStore{db: tx, now: s.now}
}

const itemCols = `local_id, server_id, list_local_id, list_server_id, catalog_term_id, text, normalized_text, dedupe_key, quantity, unit, checked, category, extra, created_at, updated_at, dirty, deleted`

func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	var it model.Item
	var serverID, listServerID, termID, category sql.NullString
	var extra string
	var checked, dirty, deleted int
	var unit string

	err := scanner.Scan(
		&it.LocalID, &serverID, &it.ListLocalID, &listServerID, &termID,
		&it.Text, &it.NormalizedText, &it.DedupeKey, &it.Quantity, &unit,
		&checked, &category, &extra, &it.CreatedAt, &it.UpdatedAt, &dirty, &deleted,
	)
	if err != nil {
		return nil, err
	}

	it.ServerID = serverID.String
	it.ListServerID = listServerID.String
	it.CatalogTermID = termID.String
	it.Category = category.String
	it.Unit = model.Unit(unit)
	it.Checked = checked != 0
	it.Dirty = dirty != 0
	it.Deleted = deleted != 0

	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &it.Extra); err != nil {
			return nil, &model.StoreCorruptionError{Detail: "item extra attributes", Err: err}
		}
	}
	return &it, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode extra: %w", err)
	}
	return string(data), nil
}

// Add inserts a new item into a list. Text must be non-empty after trimming.
// A second active item with the same dedupe key in the same list is rejected
// with DuplicateError; the quantity is silently coerced instead of rejected.
func (s *ItemStore) Add(localID, listLocalID string, in ItemInput) (*model.Item, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, &model.ValidationError{Field: "text", Reason: "must not be empty"}
	}

	normalized := model.NormalizeText(text)
	dedupeKey := model.DedupeKeyFor(in.CatalogTermID, text)

	if existing, err := s.findActiveByDedupeKey(listLocalID, dedupeKey); err != nil {
		return nil, err
	} else if existing != "" {
		return nil, &model.DuplicateError{ListLocalID: listLocalID, DedupeKey: dedupeKey, ExistingLocalID: existing}
	}

	unit := in.Unit
	if unit == "" {
		unit = model.UnitPiece
	}
	extra, err := encodeExtra(in.Extra)
	if err != nil {
		return nil, err
	}

	// Denormalized copy of the owning list's server id, if it has one yet.
	var listServerID sql.NullString
	if err := s.db.QueryRow(`SELECT server_id FROM lists WHERE local_id = ?`, listLocalID).Scan(&listServerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, &model.ValidationError{Field: "list_local_id", Reason: "no such list"}
		}
		return nil, fmt.Errorf("lookup owning list: %w", err)
	}

	now := s.now()
	_, err = s.db.Exec(
		`INSERT INTO items (local_id, list_local_id, list_server_id, catalog_term_id, text, normalized_text, dedupe_key, quantity, unit, checked, category, extra, created_at, updated_at, dirty, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0)`,
		localID, listLocalID, listServerID, nullString(in.CatalogTermID), text, normalized, dedupeKey,
		model.CoerceQuantity(in.Quantity), string(unit), boolInt(in.Checked), nullString(in.Category), extra, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	if err := s.bumpList(listLocalID, now); err != nil {
		return nil, err
	}
	return s.Get(localID)
}

// Get returns an item by local id, tombstones included. Nil if no row exists.
func (s *ItemStore) Get(localID string) (*model.Item, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM items WHERE local_id = ?`, localID)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// ListByList returns the non-deleted items of a list, unchecked first, newest
// change first within each group.
func (s *ItemStore) ListByList(listLocalID string) ([]model.Item, error) {
	rows, err := s.db.Query(
		`SELECT `+itemCols+` FROM items WHERE list_local_id = ? AND deleted = 0 ORDER BY checked ASC, updated_at DESC, local_id ASC`,
		listLocalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Update replaces the editable fields of an item, recomputes its dedupe key,
// bumps its timestamp and marks it and the owning list dirty. Nil if the item
// does not exist or is deleted.
func (s *ItemStore) Update(localID string, in ItemInput) (*model.Item, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, &model.ValidationError{Field: "text", Reason: "must not be empty"}
	}

	current, err := s.Get(localID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Deleted {
		return nil, nil
	}

	normalized := model.NormalizeText(text)
	dedupeKey := model.DedupeKeyFor(in.CatalogTermID, text)

	if existing, err := s.findActiveByDedupeKey(current.ListLocalID, dedupeKey); err != nil {
		return nil, err
	} else if existing != "" && existing != localID {
		return nil, &model.DuplicateError{ListLocalID: current.ListLocalID, DedupeKey: dedupeKey, ExistingLocalID: existing}
	}

	unit := in.Unit
	if unit == "" {
		unit = model.UnitPiece
	}
	extra, err := encodeExtra(in.Extra)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.db.Exec(
		`UPDATE items SET catalog_term_id = ?, text = ?, normalized_text = ?, dedupe_key = ?, quantity = ?, unit = ?, checked = ?, category = ?, extra = ?, updated_at = MAX(?, updated_at + 1), dirty = 1
		 WHERE local_id = ?`,
		nullString(in.CatalogTermID), text, normalized, dedupeKey, model.CoerceQuantity(in.Quantity),
		string(unit), boolInt(in.Checked), nullString(in.Category), extra, now, localID,
	)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	if err := s.bumpList(current.ListLocalID, now); err != nil {
		return nil, err
	}
	return s.Get(localID)
}

// SoftDelete tombstones an item until its delete is confirmed synced.
func (s *ItemStore) SoftDelete(localID string) error {
	current, err := s.Get(localID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	now := s.now()
	_, err = s.db.Exec(
		`UPDATE items SET deleted = 1, dirty = 1, updated_at = MAX(?, updated_at + 1) WHERE local_id = ?`,
		now, localID,
	)
	if err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	return s.bumpList(current.ListLocalID, now)
}

// AttachServerID records the server-assigned id for an item.
func (s *ItemStore) AttachServerID(localID, serverID string) error {
	if _, err := s.db.Exec(`UPDATE items SET server_id = ? WHERE local_id = ?`, serverID, localID); err != nil {
		return fmt.Errorf("attach server item id: %w", err)
	}
	return nil
}

// MarkClean clears the dirty flag.
func (s *ItemStore) MarkClean(localID string) error {
	if _, err := s.db.Exec(`UPDATE items SET dirty = 0 WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("mark item clean: %w", err)
	}
	return nil
}

// Purge physically removes a tombstoned item.
func (s *ItemStore) Purge(localID string) error {
	if _, err := s.db.Exec(`DELETE FROM items WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("purge item: %w", err)
	}
	return nil
}

func (s *ItemStore) findActiveByDedupeKey(listLocalID, dedupeKey string) (string, error) {
	var localID string
	err := s.db.QueryRow(
		`SELECT local_id FROM items WHERE list_local_id = ? AND dedupe_key = ? AND deleted = 0`,
		listLocalID, dedupeKey,
	).Scan(&localID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dedupe lookup: %w", err)
	}
	return localID, nil
}

func (s *ItemStore) bumpList(listLocalID string, now int64) error {
	_, err := s.db.Exec(
		`UPDATE lists SET updated_at = MAX(?, updated_at + 1), dirty = 1 WHERE local_id = ?`,
		now, listLocalID,
	)
	if err != nil {
		return fmt.Errorf("bump list: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
