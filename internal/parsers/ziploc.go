// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"sort"
	"strings"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// The CMS ZIP code archive carries one fixed-width member holding both ZIP5
// locality records and ZIP9 override records, distinguished by the
// PlusFourFlag column. Both parsers below read the same member through the
// superset layout (cms_zip9_overrides) and select their rows from it.

func readZipArchiveRows(in Input) (parsekit.Frame, parsekit.Metrics, error) {
	data := in.Bytes
	if strings.HasSuffix(strings.ToLower(in.Meta.SourceFilename), ".zip") {
		member, _, err := parsekit.ExtractZipMember(data, in.SourceURL, ".txt")
		if err != nil {
			return parsekit.Frame{}, parsekit.Metrics{}, err
		}
		data = member
	}

	layout, err := in.Layouts.Get("cms_zip9_overrides", in.Meta.ProductYear, in.Meta.Quarter())
	if err != nil {
		return parsekit.Frame{}, parsekit.Metrics{}, err
	}
	text, enc, err := parsekit.SniffAndDecode(data)
	if err != nil {
		return parsekit.Frame{}, parsekit.Metrics{}, core.EncodingError{Filename: in.Meta.SourceFilename, Reason: err.Error()}
	}
	fw, err := parsekit.ReadFixedWidth(text, layout)
	if err != nil {
		return parsekit.Frame{}, parsekit.Metrics{}, err
	}
	metrics := parsekit.Metrics{
		EncodingDetected: enc.Name,
		EncodingFallback: enc.Fallback,
		LayoutVersion:    layout.Version,
		SkiprowsDynamic:  fw.SkippedRows,
	}
	return fw.Frame, metrics, nil
}

func isZIP9Row(row parsekit.Row) bool {
	flag, _ := row.Get("plus_four_flag")
	plusFour, present := row.Get("plus_four")
	return flag == "1" && present && strings.TrimSpace(plusFour) != "" && strings.Trim(plusFour, "0 ") != ""
}

// ZIP5LocalityParser parses the ZIP5-to-locality records from the CMS ZIP
// archive.
type ZIP5LocalityParser struct {
	schema core.SchemaContract
}

// NewZIP5LocalityParser builds the parser against the schema registry.
func NewZIP5LocalityParser(schemas *core.SchemaRegistry) (Parser, error) {
	schema, err := schemas.Get("cms_zip5_locality")
	if err != nil {
		return nil, err
	}
	return &ZIP5LocalityParser{schema: schema}, nil
}

// Dataset implements the Parser interface.
func (p *ZIP5LocalityParser) Dataset() string { return p.schema.Dataset }

// Parse implements the Parser interface.
func (p *ZIP5LocalityParser) Parse(in Input) (parsekit.ParseResult, error) {
	startedAt := in.now()
	if err := in.Meta.Validate(); err != nil {
		return parsekit.ParseResult{}, err
	}

	raw, metrics, err := readZipArchiveRows(in)
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	// keep only the ZIP5 base records; ZIP9 override records belong to the
	// sibling parser
	frame := parsekit.Frame{Columns: p.schema.ColumnNames()}
	for _, row := range raw.Rows {
		if isZIP9Row(row) {
			continue
		}
		out := parsekit.NewRow(row.Pos)
		for _, col := range []string{"zip5", "state", "locality", "rural_flag"} {
			if value, present := row.Get(col); present {
				out.Values[col] = value
			}
		}
		// the superset layout names this column "carrier"
		if value, present := row.Get("carrier"); present {
			out.Values["carrier_mac"] = value
		}
		frame.Rows = append(frame.Rows, out)
	}

	return runTabularSteps(frame, p.schema, in, metrics, startedAt, func(f *parsekit.Frame) error {
		defaultEffectiveFrom(f, in.Meta)
		return nil
	})
}

// ZIP9OverrideParser parses the ZIP9 override ranges from the CMS ZIP
// archive: only rows with PlusFourFlag='1' and a non-zero PlusFour are
// selected, and the resulting half-open ranges must not overlap within a
// vintage.
type ZIP9OverrideParser struct {
	schema core.SchemaContract
}

// NewZIP9OverrideParser builds the parser against the schema registry.
func NewZIP9OverrideParser(schemas *core.SchemaRegistry) (Parser, error) {
	schema, err := schemas.Get("cms_zip9_overrides")
	if err != nil {
		return nil, err
	}
	return &ZIP9OverrideParser{schema: schema}, nil
}

// Dataset implements the Parser interface.
func (p *ZIP9OverrideParser) Dataset() string { return p.schema.Dataset }

// Parse implements the Parser interface.
func (p *ZIP9OverrideParser) Parse(in Input) (parsekit.ParseResult, error) {
	startedAt := in.now()
	if err := in.Meta.Validate(); err != nil {
		return parsekit.ParseResult{}, err
	}

	raw, metrics, err := readZipArchiveRows(in)
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	frame := parsekit.Frame{Columns: p.schema.ColumnNames()}
	for _, row := range raw.Rows {
		if !isZIP9Row(row) {
			continue
		}
		zip5, _ := row.Get("zip5")
		plusFour, _ := row.Get("plus_four")
		zip5 = strings.TrimSpace(zip5)
		low := zip5 + strings.TrimSpace(plusFour)
		high := low
		if plusFourHigh, present := row.Get("plus_four_high"); present && strings.TrimSpace(plusFourHigh) != "" {
			high = zip5 + strings.TrimSpace(plusFourHigh)
		}

		out := parsekit.NewRow(row.Pos)
		out.Values["zip9_low"] = low
		out.Values["zip9_high"] = high
		for _, col := range []string{"state", "locality", "rural_flag"} {
			if value, present := row.Get(col); present {
				out.Values[col] = value
			}
		}
		frame.Rows = append(frame.Rows, out)
	}

	result, err := runTabularSteps(frame, p.schema, in, metrics, startedAt, func(f *parsekit.Frame) error {
		defaultEffectiveFrom(f, in.Meta)
		return nil
	})
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	if err := checkRangeOverlaps(result.Data, p.schema.ID()); err != nil {
		return parsekit.ParseResult{}, err
	}
	return result, nil
}

// checkRangeOverlaps verifies zip9_low <= zip9_high per row and that no two
// ranges of the same vintage overlap. Bounds are inclusive on both ends.
func checkRangeOverlaps(data parsekit.Frame, schemaID string) error {
	type zipRange struct{ low, high string }
	ranges := make([]zipRange, 0, data.Len())
	var bad [][2]string
	for _, row := range data.Rows {
		r := zipRange{low: row.Values["zip9_low"], high: row.Values["zip9_high"]}
		if r.low > r.high {
			bad = append(bad, [2]string{r.low, r.high})
			continue
		}
		ranges = append(ranges, r)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].low < ranges[j].low })
	for idx := 1; idx < len(ranges); idx++ {
		if ranges[idx].low <= ranges[idx-1].high {
			bad = append(bad, [2]string{ranges[idx-1].low + "-" + ranges[idx-1].high, ranges[idx].low + "-" + ranges[idx].high})
			if len(bad) >= core.MaxReportedDuplicateKeys {
				break
			}
		}
	}
	if len(bad) > 0 {
		return core.RangeOverlapError{SchemaID: schemaID, Ranges: bad}
	}
	return nil
}
