// Package model defines the core data structures for the iago extraction engine.
package model

import (
	"strings"
	"time"
)

// FieldName identifies one of the structured fields the engine can learn.
type FieldName string

// Extractable fields of a property registration document.
const (
	FieldRegistrationNumber FieldName = "NUMERO_REGISTRO"
	FieldStreetName         FieldName = "NOME_LOGRADOURO"
	FieldNeighborhood       FieldName = "BAIRRO"
	FieldCity               FieldName = "CIDADE"
	FieldLot                FieldName = "LOTE"
	FieldBlock              FieldName = "QUADRA"
	FieldSector             FieldName = "SETOR"
)

// TargetFields is the closed set of fields learned and analyzed, in learning order.
var TargetFields = []FieldName{
	FieldRegistrationNumber,
	FieldStreetName,
	FieldNeighborhood,
	FieldCity,
	FieldLot,
	FieldBlock,
	FieldSector,
}

// AnonymizedExample replaces every stored example during sanitization.
const AnonymizedExample = "ANONYMIZED_DATA"

// ParseFieldName maps a case-insensitive field name onto the closed field set.
func ParseFieldName(name string) (FieldName, bool) {
	candidate := FieldName(strings.ToUpper(strings.TrimSpace(name)))
	for _, f := range TargetFields {
		if f == candidate {
			return f, true
		}
	}
	return "", false
}

// IsTarget reports whether the field belongs to the closed field set.
func (f FieldName) IsTarget() bool {
	for _, target := range TargetFields {
		if target == f {
			return true
		}
	}
	return false
}

// PlaceholderExample returns the non-identifying example stored with a new pattern.
// The literal extracted value is never persisted.
func (f FieldName) PlaceholderExample() string {
	return "Pattern for " + string(f)
}

// Pattern is a learned, context-anchored extraction rule for one field.
type Pattern struct {
	CreatedAt    time.Time `json:"created_at"`
	FieldName    FieldName `json:"field_name"`
	RegexPattern string    `json:"regex_pattern"`
	ExampleMatch string    `json:"example_match"`
	ID           int64     `json:"id"`
	Weight       int       `json:"weight"`
}
