package model

import (
	"math"
	"strings"
)

// Unit enumerates the quantity units an item can carry.
type Unit string

const (
	UnitPiece      Unit = "piece"
	UnitGram       Unit = "gram"
	UnitKilogram   Unit = "kilogram"
	UnitMilliliter Unit = "milliliter"
	UnitLiter      Unit = "liter"
)

// ParseUnit maps a unit string to a known Unit, defaulting to piece.
func ParseUnit(s string) Unit {
	switch Unit(strings.ToLower(strings.TrimSpace(s))) {
	case UnitGram:
		return UnitGram
	case UnitKilogram:
		return UnitKilogram
	case UnitMilliliter:
		return UnitMilliliter
	case UnitLiter:
		return UnitLiter
	default:
		return UnitPiece
	}
}

// Item belongs to exactly one List.
//
// ListServerID is a denormalized copy of the owning list's server id,
// refreshed whenever the list obtains one. NormalizedText is used only for
// equality, never for display. DedupeKey is the catalog term id when the item
// is linked to the shared vocabulary, else the normalized text.
type Item struct {
	LocalID        string            `json:"local_id"`
	ServerID       string            `json:"server_id,omitempty"`
	ListLocalID    string            `json:"list_local_id"`
	ListServerID   string            `json:"list_server_id,omitempty"`
	CatalogTermID  string            `json:"catalog_term_id,omitempty"`
	Text           string            `json:"text"`
	NormalizedText string            `json:"normalized_text"`
	DedupeKey      string            `json:"dedupe_key"`
	Quantity       float64           `json:"quantity"`
	Unit           Unit              `json:"unit"`
	Checked        bool              `json:"checked"`
	Category       string            `json:"category,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
	Dirty          bool              `json:"dirty"`
	Deleted        bool              `json:"deleted"`
}

// NormalizeText lower-cases, trims, and collapses internal whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// DedupeKeyFor returns the key used to detect logically-equivalent items
// within a list: the catalog term id when present, else the normalized text.
func DedupeKeyFor(catalogTermID, text string) string {
	if catalogTermID != "" {
		return catalogTermID
	}
	return NormalizeText(text)
}

// CoerceQuantity silently corrects a non-finite or non-positive quantity to 1
// and rounds to two decimals. Deliberate UX policy: bad quantities are fixed,
// never rejected.
func CoerceQuantity(q float64) float64 {
	if math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 {
		return 1
	}
	return math.Round(q*100) / 100
}
