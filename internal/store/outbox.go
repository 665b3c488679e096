package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/satchel/internal/model"
)

const (
	backoffBase  = time.Second
	backoffCap   = 5 * time.Minute
	backoffTries = 20 // scheduling cap; entries stay retryable indefinitely
)

// BackoffDelay returns the retry delay after the given number of attempts:
// exponential from one second, capped at five minutes.
func BackoffDelay(tries int) time.Duration {
	if tries < 0 {
		tries = 0
	}
	if tries > backoffTries {
		tries = backoffTries
	}
	d := backoffBase << uint(tries)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// OutboxStore persists the ordered durable log of pending remote mutations.
// Status transitions belong to the sync engine; other callers only Enqueue.
type OutboxStore struct {
	db  dbtx
	now func() int64
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db, now: nowMillis}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *OutboxStore) WithTx(tx *sql.Tx) *OutboxStore {
	return &OutboxStore{db: tx, now: s.now}
}

const outboxCols = `id, created_at, operation, payload, status, last_error, tries, next_attempt_at`

func scanEntry(scanner interface{ Scan(...any) error }) (*model.OutboxEntry, error) {
	var e model.OutboxEntry
	var payload string
	var lastError sql.NullString
	var nextAttemptAt sql.NullInt64

	err := scanner.Scan(&e.ID, &e.CreatedAt, &e.Operation, &payload, &e.Status, &lastError, &e.Tries, &nextAttemptAt)
	if err != nil {
		return nil, err
	}

	e.Payload = []byte(payload)
	e.LastError = lastError.String
	e.NextAttemptAt = nextAttemptAt.Int64
	return &e, nil
}

// Enqueue appends a new pending entry carrying an operation-specific payload
// snapshot.
func (s *OutboxStore) Enqueue(op model.Operation, payload []byte) (*model.OutboxEntry, error) {
	result, err := s.db.Exec(
		`INSERT INTO outbox (created_at, operation, payload, status) VALUES (?, ?, ?, ?)`,
		s.now(), string(op), string(payload), string(model.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue outbox entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(id)
}

// Get returns an entry by id. Nil if no row exists.
func (s *OutboxStore) Get(id int64) (*model.OutboxEntry, error) {
	row := s.db.QueryRow(`SELECT `+outboxCols+` FROM outbox WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox entry: %w", err)
	}
	return e, nil
}

// PeekPending returns up to limit pending entries eligible now, in insertion
// order. Insertion order is causal order: an item mutation never outruns the
// creation of its list.
func (s *OutboxStore) PeekPending(limit int) ([]model.OutboxEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+outboxCols+` FROM outbox
		 WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY id ASC LIMIT ?`,
		string(model.StatusPending), s.now(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("peek pending: %w", err)
	}
	defer rows.Close()

	var entries []model.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// MarkDone finalizes an entry after its remote call succeeded.
func (s *OutboxStore) MarkDone(id int64) error {
	_, err := s.db.Exec(
		`UPDATE outbox SET status = ?, last_error = NULL, next_attempt_at = NULL WHERE id = ?`,
		string(model.StatusDone), id,
	)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

// MarkFailedFinal parks an entry after a permanent rejection. It stays failed
// until an operator resets it.
func (s *OutboxStore) MarkFailedFinal(id int64, cause error) error {
	_, err := s.db.Exec(
		`UPDATE outbox SET status = ?, last_error = ?, next_attempt_at = NULL WHERE id = ?`,
		string(model.StatusFailed), cause.Error(), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Defer re-arms an entry after a transient failure: the attempt counter is
// bumped and the entry becomes eligible again after the backoff delay.
func (s *OutboxStore) Defer(id int64, cause error, tries int) error {
	next := s.now() + BackoffDelay(tries).Milliseconds()
	_, err := s.db.Exec(
		`UPDATE outbox SET tries = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		tries+1, cause.Error(), next, id,
	)
	if err != nil {
		return fmt.Errorf("defer entry: %w", err)
	}
	return nil
}

// ResetFailedToPending is an operator maintenance action: failed entries
// become immediately eligible again with a fresh backoff schedule. The last
// error is kept for diagnosis until the next attempt overwrites it.
func (s *OutboxStore) ResetFailedToPending() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE outbox SET status = ?, tries = 0, next_attempt_at = NULL WHERE status = ?`,
		string(model.StatusPending), string(model.StatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("reset failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ClearDone is an operator maintenance action: confirmed entries are removed.
func (s *OutboxStore) ClearDone() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM outbox WHERE status = ?`, string(model.StatusDone))
	if err != nil {
		return 0, fmt.Errorf("clear done: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Counts reports how many entries sit in each status, for the status surface.
func (s *OutboxStore) Counts() (pending, failed, done int, err error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count outbox: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, fmt.Errorf("scan count: %w", err)
		}
		switch model.Status(status) {
		case model.StatusPending:
			pending = n
		case model.StatusFailed:
			failed = n
		case model.StatusDone:
			done = n
		}
	}
	return pending, failed, done, rows.Err()
}

// ListRecent returns the newest entries first, for the operator CLI.
func (s *OutboxStore) ListRecent(limit int) ([]model.OutboxEntry, error) {
	rows, err := s.db.Query(`SELECT `+outboxCols+` FROM outbox ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var entries []model.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
