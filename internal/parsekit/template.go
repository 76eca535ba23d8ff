// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"fmt"
	"time"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// ReleaseMeta carries the per-release metadata that gets injected into every
// canonical row. All fields except VintageDate are required; parsers
// preflight this before touching any bytes.
type ReleaseMeta struct {
	ReleaseID      string
	VintageDate    string // ISO date
	ProductYear    int
	QuarterVintage string // e.g. "2025Q1"
	SourceFilename string
	SourceSHA256   string
}

// Validate is step 1 of the parser template: reject missing metadata keys
// before any parsing work happens.
func (m ReleaseMeta) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("missing required release metadata: %s", field)
	}
	switch {
	case m.ReleaseID == "":
		return missing("release_id")
	case m.ProductYear == 0:
		return missing("product_year")
	case m.QuarterVintage == "":
		return missing("quarter_vintage")
	case m.SourceFilename == "":
		return missing("source_filename")
	case m.SourceSHA256 == "":
		return missing("source_file_sha256")
	}
	return nil
}

// Quarter extracts the numeric quarter from QuarterVintage ("2025Q1" -> 1).
// Defaults to 1 when the suffix is absent or malformed.
func (m ReleaseMeta) Quarter() int {
	for q := 1; q <= 4; q++ {
		if len(m.QuarterVintage) >= 2 && m.QuarterVintage[len(m.QuarterVintage)-2:] == fmt.Sprintf("Q%d", q) {
			return q
		}
	}
	return 1
}

// InjectMetadata adds the metadata columns to every retained row. parsed_at
// is allowed to differ between runs; it is excluded from the content hash
// (as are all metadata columns, which are never part of column_order).
func InjectMetadata(frame *Frame, schema core.SchemaContract, meta ReleaseMeta, parsedAt time.Time) {
	parsedAtStr := parsedAt.UTC().Format(time.RFC3339)
	for idx := range frame.Rows {
		values := frame.Rows[idx].Values
		values["release_id"] = meta.ReleaseID
		if meta.VintageDate != "" {
			values["vintage_date"] = meta.VintageDate
		}
		values["product_year"] = fmt.Sprint(meta.ProductYear)
		values["quarter_vintage"] = meta.QuarterVintage
		values["source_filename"] = meta.SourceFilename
		values["source_file_sha256"] = meta.SourceSHA256
		values["parsed_at"] = parsedAtStr
		values["schema_id"] = schema.ID()
	}
	frame.Columns = append(append([]string{}, frame.Columns...), core.MetadataColumns...)
}

// Finalize is step 11 of the parser template: hash, inject metadata, sort by
// natural key, re-index, compute derived metrics, and assert the join
// invariant.
func Finalize(frame Frame, rejects RejectFrame, schema core.SchemaContract, meta ReleaseMeta, metrics Metrics, startedAt, parsedAt time.Time) (ParseResult, error) {
	// hash before metadata injection so that metadata cannot leak into the
	// hash even by accident
	HashFrame(&frame, schema.ColumnOrder)
	InjectMetadata(&frame, schema, meta, parsedAt)
	frame.SortByNaturalKey(schema.NaturalKeys)
	for idx := range frame.Rows {
		frame.Rows[idx].Pos = idx
	}

	metrics.SchemaID = schema.ID()
	metrics.ParseDurationSec = parsedAt.Sub(startedAt).Seconds()
	metrics.Finish(frame, rejects)

	result := ParseResult{Data: frame, Rejects: rejects, Metrics: metrics}
	if err := result.AssertJoinInvariant(); err != nil {
		return ParseResult{}, err
	}
	return result, nil
}
