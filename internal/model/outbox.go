package model

// Operation identifies the kind of remote mutation an outbox entry intends.
type Operation string

const (
	OpListCreate Operation = "list_create"
	OpListRename Operation = "list_rename"
	OpListDelete Operation = "list_delete"
	OpItemAdd    Operation = "item_add"
	OpItemUpdate Operation = "item_update"
	OpItemDelete Operation = "item_delete"
)

// Status is the lifecycle state of an outbox entry. Done and Failed are
// terminal; a failed entry is only retried after an explicit operator reset.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// OutboxEntry is an immutable-once-created intent to apply one mutation
// remotely. Payload is an operation-specific snapshot, not a live reference:
// it carries every field the remote call needs, because the local record may
// have changed or been deleted by the time the entry is drained.
type OutboxEntry struct {
	ID            int64     `json:"id"`
	CreatedAt     int64     `json:"created_at"`
	Operation     Operation `json:"operation"`
	Payload       []byte    `json:"payload"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	Tries         int       `json:"tries"`
	NextAttemptAt int64     `json:"next_attempt_at,omitempty"`
}
