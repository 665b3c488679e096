package store

import (
	"database/sql"
	"time"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx. Stores
// are constructed over the database and rebound with WithTx when a record
// mutation and its outbox entry must commit as one pair.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
