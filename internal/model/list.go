package model

// List is a named collection of items owned by the household account.
//
// LocalID is device-generated and stable for the life of the record. ServerID
// is empty until the remote service confirms the list's creation. CreatedAt
// and UpdatedAt are logical unix-millisecond timestamps, monotonic per record.
type List struct {
	LocalID   string `json:"local_id"`
	ServerID  string `json:"server_id,omitempty"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Dirty     bool   `json:"dirty"`
	Deleted   bool   `json:"deleted"`
}
