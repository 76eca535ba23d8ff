// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// ColumnType enumerates the logical types a schema contract can declare.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
)

// RoundingMode selects how numeric values are rounded during
// canonicalization. Rounding always happens in exact decimal arithmetic.
type RoundingMode string

const (
	RoundHalfUp   RoundingMode = "HALF_UP"
	RoundHalfEven RoundingMode = "HALF_EVEN"
)

// ColumnSpec describes one column of a schema contract.
type ColumnSpec struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Nullable    bool       `json:"nullable"`
	Description string     `json:"description,omitempty"`
	// Pattern, if set, is a regexp that every non-null value must match.
	Pattern string `json:"pattern,omitempty"`
	// Domain, if non-empty, restricts the column to this set of values
	// (case-sensitive, after string normalization).
	Domain []string `json:"domain,omitempty"`
	// DomainSeverity defaults to BLOCK when Domain is set.
	DomainSeverity Severity `json:"domain_severity,omitempty"`
	// Precision and Rounding apply to float columns only. Precision is the
	// number of fractional digits in the canonical rendering.
	Precision int          `json:"precision,omitempty"`
	Rounding  RoundingMode `json:"rounding,omitempty"`
	// HardMin/HardMax are BLOCK bounds, GuardMin/GuardMax are WARN
	// guardrails. Nil means unbounded.
	HardMin  *float64 `json:"hard_min,omitempty"`
	HardMax  *float64 `json:"hard_max,omitempty"`
	GuardMin *float64 `json:"guard_min,omitempty"`
	GuardMax *float64 `json:"guard_max,omitempty"`
}

// SchemaContract is the versioned declarative description of one dataset.
// It drives parsing, validation, hashing and publication.
type SchemaContract struct {
	Dataset              string       `json:"name"`
	Version              string       `json:"version"` // SemVer "major.minor"
	Description          string       `json:"description"`
	Source               string       `json:"source"`
	Classification       string       `json:"classification"`
	License              string       `json:"license"`
	AttributionRequired  bool         `json:"attribution_required"`
	Columns              []ColumnSpec `json:"-"`
	NaturalKeys          []string     `json:"natural_keys"`
	ColumnOrder          []string     `json:"column_order"`
	MetadataExclusions   []string     `json:"hash_metadata_exclusions"`
	NaturalKeySeverity   Severity     `json:"natural_key_severity"`
	CriticalColumns      []string     `json:"critical_columns,omitempty"`
	ExpectedCadenceHours float64      `json:"expected_cadence_hours,omitempty"`
}

// ID returns the schema identifier, e.g. "cms_gpci_v1.0".
func (s SchemaContract) ID() string {
	return fmt.Sprintf("%s_v%s", s.Dataset, s.Version)
}

// Column returns the spec for the named column, or false.
func (s SchemaContract) Column(name string) (ColumnSpec, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnNames returns all declared column names in declaration order.
func (s SchemaContract) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for idx, col := range s.Columns {
		names[idx] = col.Name
	}
	return names
}

// MetadataColumns are injected into every canonical row after validation.
// They are excluded from the row content hash.
var MetadataColumns = []string{
	"release_id",
	"vintage_date",
	"product_year",
	"quarter_vintage",
	"source_filename",
	"source_file_sha256",
	"parsed_at",
	"schema_id",
	"row_content_hash",
}

// contractDocument is the on-disk representation of a schema contract
// (stage/<release_id>/schema_contract.json).
type contractDocument struct {
	Name                string                `json:"name"`
	Version             string                `json:"version"`
	Description         string                `json:"description"`
	Source              string                `json:"source"`
	Classification      string                `json:"classification"`
	License             string                `json:"license"`
	AttributionRequired bool                  `json:"attribution_required"`
	SchemaVersion       string                `json:"schema_version"`
	CreatedAt           string                `json:"created_at"`
	Columns             map[string]ColumnSpec `json:"columns"`
	NaturalKeys         []string              `json:"natural_keys"`
	ColumnOrder         []string              `json:"column_order"`
	MetadataExclusions  []string              `json:"hash_metadata_exclusions"`
}

// MarshalDocument renders the contract in the published JSON document shape.
func (s SchemaContract) MarshalDocument(now time.Time) ([]byte, error) {
	doc := contractDocument{
		Name:                s.Dataset,
		Version:             s.Version,
		Description:         s.Description,
		Source:              s.Source,
		Classification:      s.Classification,
		License:             s.License,
		AttributionRequired: s.AttributionRequired,
		SchemaVersion:       s.ID(),
		CreatedAt:           now.UTC().Format(time.RFC3339),
		Columns:             make(map[string]ColumnSpec, len(s.Columns)),
		NaturalKeys:         s.NaturalKeys,
		ColumnOrder:         s.ColumnOrder,
		MetadataExclusions:  s.MetadataExclusions,
	}
	for _, col := range s.Columns {
		doc.Columns[col.Name] = col
	}
	return json.MarshalIndent(doc, "", "  ")
}

// SchemaRegistry holds all registered schema contracts. It is static for the
// lifetime of the process and gets injected into every component that needs
// it (no ambient singleton).
type SchemaRegistry struct {
	contracts map[string]SchemaContract
}

// NewSchemaRegistry builds a registry from the given contracts.
func NewSchemaRegistry(contracts ...SchemaContract) (*SchemaRegistry, error) {
	r := &SchemaRegistry{contracts: make(map[string]SchemaContract, len(contracts))}
	for _, contract := range contracts {
		if err := validateContract(contract); err != nil {
			return nil, fmt.Errorf("while registering schema %s: %w", contract.ID(), err)
		}
		if _, exists := r.contracts[contract.Dataset]; exists {
			return nil, fmt.Errorf("duplicate schema registration for dataset %s", contract.Dataset)
		}
		r.contracts[contract.Dataset] = contract
	}
	return r, nil
}

// Get returns the contract for a dataset name.
func (r *SchemaRegistry) Get(dataset string) (SchemaContract, error) {
	contract, exists := r.contracts[dataset]
	if !exists {
		return SchemaContract{}, fmt.Errorf("no schema contract registered for dataset %q", dataset)
	}
	return contract, nil
}

// Datasets returns the names of all registered datasets.
func (r *SchemaRegistry) Datasets() []string {
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	return names
}

func validateContract(s SchemaContract) error {
	if s.Dataset == "" || s.Version == "" {
		return fmt.Errorf("dataset and version must be set")
	}
	declared := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		declared[col.Name] = true
	}
	for _, name := range s.NaturalKeys {
		if !declared[name] {
			return fmt.Errorf("natural key %q is not a declared column", name)
		}
	}
	for _, name := range s.ColumnOrder {
		if !declared[name] {
			return fmt.Errorf("column_order entry %q is not a declared column", name)
		}
	}
	if len(s.ColumnOrder) == 0 {
		return fmt.Errorf("column_order must not be empty")
	}
	return nil
}
