package model

import (
	"encoding/json"
	"fmt"
)

// Outbox payloads form a closed tagged union keyed by Operation. Each payload
// is a full snapshot taken at enqueue time; server ids are deliberately
// absent and resolved from current store state at drain time.

type ListCreatePayload struct {
	ListLocalID string `json:"list_local_id"`
	Name        string `json:"name"`
}

type ListRenamePayload struct {
	ListLocalID string `json:"list_local_id"`
	Name        string `json:"name"`
}

type ListDeletePayload struct {
	ListLocalID string `json:"list_local_id"`
}

type ItemAddPayload struct {
	ItemLocalID   string            `json:"item_local_id"`
	ListLocalID   string            `json:"list_local_id"`
	CatalogTermID string            `json:"catalog_term_id,omitempty"`
	Text          string            `json:"text"`
	Quantity      float64           `json:"quantity"`
	Unit          Unit              `json:"unit"`
	Checked       bool              `json:"checked"`
	Category      string            `json:"category,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

type ItemUpdatePayload struct {
	ItemLocalID   string            `json:"item_local_id"`
	ListLocalID   string            `json:"list_local_id"`
	CatalogTermID string            `json:"catalog_term_id,omitempty"`
	Text          string            `json:"text"`
	Quantity      float64           `json:"quantity"`
	Unit          Unit              `json:"unit"`
	Checked       bool              `json:"checked"`
	Category      string            `json:"category,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

type ItemDeletePayload struct {
	ItemLocalID string `json:"item_local_id"`
	ListLocalID string `json:"list_local_id"`
}

// EncodePayload serializes a payload for storage in the outbox.
func EncodePayload(p any) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes raw payload bytes according to the entry's operation.
// An unknown operation or unreadable payload is a StoreCorruptionError, never
// a crash.
func DecodePayload(op Operation, raw []byte) (any, error) {
	var (
		target any
	)
	switch op {
	case OpListCreate:
		target = &ListCreatePayload{}
	case OpListRename:
		target = &ListRenamePayload{}
	case OpListDelete:
		target = &ListDeletePayload{}
	case OpItemAdd:
		target = &ItemAddPayload{}
	case OpItemUpdate:
		target = &ItemUpdatePayload{}
	case OpItemDelete:
		target = &ItemDeletePayload{}
	default:
		return nil, &StoreCorruptionError{Detail: fmt.Sprintf("unknown outbox operation %q", op)}
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, &StoreCorruptionError{Detail: fmt.Sprintf("undecodable %s payload", op), Err: err}
	}
	return target, nil
}
