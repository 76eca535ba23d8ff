// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package parsekit contains the shared utilities that all format parsers are
// built from: the encoding cascade, header/string normalization, exact
// decimal canonicalization, deterministic row hashing, categorical
// enforcement and natural-key dedup. It guarantees that the same bytes
// always produce the same canonical rows and hashes.
package parsekit

import (
	"fmt"
	"sort"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// Row is one parsed record. Values holds the canonical string rendering of
// every non-null column; a missing key means NULL. Pos is the zero-based
// position of the record in the source file and is used as the final
// tie-breaker in deterministic sorts.
type Row struct {
	Pos    int
	Values map[string]string
}

// NewRow creates an empty row at the given source position.
func NewRow(pos int) Row {
	return Row{Pos: pos, Values: make(map[string]string)}
}

// Get returns the value and whether it is non-null.
func (r Row) Get(column string) (string, bool) {
	v, exists := r.Values[column]
	return v, exists
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	clone := Row{Pos: r.Pos, Values: make(map[string]string, len(r.Values))}
	for k, v := range r.Values {
		clone.Values[k] = v
	}
	return clone
}

// Frame is an ordered collection of rows sharing a column set.
type Frame struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.Rows) }

// RejectRow is a row that failed a validation or uniqueness rule. It carries
// the original parsed columns plus the structured rejection context.
type RejectRow struct {
	Row       Row
	RuleID    string
	Severity  core.Severity
	ErrorMsg  string
	SchemaID  string
	ReleaseID string
}

// RejectFrame is an ordered collection of rejected rows.
type RejectFrame struct {
	Rows []RejectRow
}

// Len returns the number of rejected rows.
func (f RejectFrame) Len() int { return len(f.Rows) }

// Add appends a reject with the given context.
func (f *RejectFrame) Add(row Row, ruleID string, severity core.Severity, errorMsg, schemaID, releaseID string) {
	f.Rows = append(f.Rows, RejectRow{
		Row:       row,
		RuleID:    ruleID,
		Severity:  severity,
		ErrorMsg:  errorMsg,
		SchemaID:  schemaID,
		ReleaseID: releaseID,
	})
}

// ParseResult is the triple that every format parser returns.
type ParseResult struct {
	Data    Frame
	Rejects RejectFrame
	Metrics Metrics
}

// AssertJoinInvariant checks that total_rows == len(data) + len(rejects).
// Every parser asserts this before returning; a violation is an
// InternalError, never silently swallowed.
func (r ParseResult) AssertJoinInvariant() error {
	if r.Metrics.TotalRows != r.Data.Len()+r.Rejects.Len() {
		return core.InternalError{Reason: fmt.Sprintf(
			"join invariant violated: total_rows=%d but data=%d rejects=%d",
			r.Metrics.TotalRows, r.Data.Len(), r.Rejects.Len())}
	}
	return nil
}

// SortByNaturalKey sorts the frame ascending by the given natural key, with
// ties broken lexicographically by the remaining data columns and finally by
// original position. NULL sorts before any value.
func (f *Frame) SortByNaturalKey(naturalKeys []string) {
	rest := make([]string, 0, len(f.Columns))
	isKey := make(map[string]bool, len(naturalKeys))
	for _, k := range naturalKeys {
		isKey[k] = true
	}
	for _, col := range f.Columns {
		if !isKey[col] {
			rest = append(rest, col)
		}
	}
	order := append(append([]string{}, naturalKeys...), rest...)

	sort.SliceStable(f.Rows, func(i, j int) bool {
		lhs, rhs := f.Rows[i], f.Rows[j]
		for _, col := range order {
			lv, lok := lhs.Values[col]
			rv, rok := rhs.Values[col]
			if !lok && !rok {
				continue
			}
			if lok != rok {
				return !lok // NULL first
			}
			if lv != rv {
				return lv < rv
			}
		}
		return lhs.Pos < rhs.Pos
	})
}

// KeyTuple extracts the values of the given columns from a row, rendering
// NULL as the empty string.
func KeyTuple(row Row, columns []string) []string {
	tuple := make([]string, len(columns))
	for idx, col := range columns {
		tuple[idx] = row.Values[col]
	}
	return tuple
}
