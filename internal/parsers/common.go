// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"fmt"
	"strings"
	"time"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// runTabularSteps executes the shared tail of the parser template (steps
// 5 and 7 through 11) over an already-read raw frame. Step 6 (inference of
// omitted columns) is parser-specific and runs before this via the infer
// callback.
func runTabularSteps(frame parsekit.Frame, schema core.SchemaContract, in Input, metrics parsekit.Metrics, startedAt time.Time, infer func(*parsekit.Frame) error) (parsekit.ParseResult, error) {
	metrics.ParserVersion = ParserVersion
	metrics.TotalRows = frame.Len()

	// step 5: string normalization over all string-typed columns
	var stringColumns []string
	for _, col := range schema.Columns {
		if col.Type == core.TypeString || col.Type == core.TypeDate {
			stringColumns = append(stringColumns, col.Name)
		}
	}
	parsekit.NormalizeStringColumns(&frame, stringColumns)

	// step 6: parser-specific inference of omitted required columns
	if infer != nil {
		if err := infer(&frame); err != nil {
			return parsekit.ParseResult{}, err
		}
	}

	var rejects parsekit.RejectFrame
	releaseID := in.Meta.ReleaseID

	// step 7: categorical validation (BLOCK by default)
	if err := parsekit.EnforceCategoricalDomains(&frame, &rejects, schema, releaseID); err != nil {
		return parsekit.ParseResult{}, err
	}

	// step 8: typed casting and numeric canonicalization
	parsekit.CastAndCanonicalize(&frame, &rejects, schema, releaseID)
	parsekit.EnforcePatterns(&frame, &rejects, schema, releaseID)

	// step 9: range validation (hard bounds BLOCK, guardrails WARN)
	blockCount, warnCount := parsekit.EnforceRanges(&frame, &rejects, schema, releaseID)
	metrics.RangeRejectCount = blockCount
	metrics.RangeWarnCount = warnCount

	// step 10: natural-key uniqueness
	dupCount, err := parsekit.EnforceNaturalKeys(&frame, &rejects, schema, releaseID)
	if err != nil {
		return parsekit.ParseResult{}, err
	}
	metrics.DuplicateKeyRows = dupCount

	// step 11: metadata injection, sort, metrics, join invariant
	return parsekit.Finalize(frame, rejects, schema, in.Meta, metrics, startedAt, in.now())
}

// readTabularBody implements step 3 for parsers that accept CSV/TSV, XLSX
// and ZIP-wrapped variants of the same logical table. It returns the raw
// frame plus the encoding result for metrics.
func readTabularBody(in Input, aliases map[string]string, zipMemberSuffix string) (parsekit.Frame, parsekit.EncodingResult, error) {
	data := in.Bytes
	filename := strings.ToLower(in.Meta.SourceFilename)

	if strings.HasSuffix(filename, ".zip") || in.ContentType == "application/zip" {
		member, memberName, err := parsekit.ExtractZipMember(data, in.SourceURL, zipMemberSuffix)
		if err != nil {
			return parsekit.Frame{}, parsekit.EncodingResult{}, err
		}
		data = member
		filename = strings.ToLower(memberName)
	}

	if strings.HasSuffix(filename, ".xlsx") {
		frame, err := parsekit.ReadXLSX(data, aliases)
		// XLSX is a container format; the encoding cascade does not apply
		return frame, parsekit.EncodingResult{Name: parsekit.EncodingUTF8}, err
	}

	text, enc, err := parsekit.SniffAndDecode(data)
	if err != nil {
		return parsekit.Frame{}, enc, core.EncodingError{Filename: in.Meta.SourceFilename, Reason: err.Error()}
	}
	frame, err := parsekit.ReadDelimited(text, aliases)
	return frame, enc, err
}

// defaultEffectiveFrom fills effective_from with January 1 of the product
// year on rows where the source file omits it.
func defaultEffectiveFrom(frame *parsekit.Frame, meta parsekit.ReleaseMeta) {
	value := fmt.Sprintf("%04d-01-01", meta.ProductYear)
	for idx := range frame.Rows {
		if _, present := frame.Rows[idx].Get("effective_from"); !present {
			frame.Rows[idx].Values["effective_from"] = value
		}
	}
	ensureColumn(frame, "effective_from")
}

func ensureColumn(frame *parsekit.Frame, name string) {
	for _, col := range frame.Columns {
		if col == name {
			return
		}
	}
	frame.Columns = append(frame.Columns, name)
}
