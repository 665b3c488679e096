package model

import "fmt"

// ValidationError reports bad input. It is surfaced to the caller immediately
// and never enters the outbox.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError reports a dedupe-key collision within a list. The caller is
// expected to redirect the user to the existing item rather than create a new
// one.
type DuplicateError struct {
	ListLocalID     string
	DedupeKey       string
	ExistingLocalID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate item %q in list %s (existing item %s)", e.DedupeKey, e.ListLocalID, e.ExistingLocalID)
}

// StoreCorruptionError reports that local persistence produced something
// unreadable. Fatal to the current operation, logged, not retried
// automatically.
type StoreCorruptionError struct {
	Detail string
	Err    error
}

func (e *StoreCorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store corruption: %s: %v", e.Detail, e.Err)
	}
	return "store corruption: " + e.Detail
}

func (e *StoreCorruptionError) Unwrap() error { return e.Err }
