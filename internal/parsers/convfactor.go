// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"github.com/shopspring/decimal"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// ConversionFactorParser parses the CMS conversion factor file. Accepted
// formats: CSV/TSV, XLSX, or a ZIP archive wrapping either. Mid-year
// adjustments yield multiple rows per cf_type distinguished by
// effective_from.
type ConversionFactorParser struct {
	schema core.SchemaContract
}

// NewConversionFactorParser builds the parser against the schema registry.
func NewConversionFactorParser(schemas *core.SchemaRegistry) (Parser, error) {
	schema, err := schemas.Get("cms_conversion_factor")
	if err != nil {
		return nil, err
	}
	return &ConversionFactorParser{schema: schema}, nil
}

// Dataset implements the Parser interface.
func (p *ConversionFactorParser) Dataset() string { return p.schema.Dataset }

var cfHeaderAliases = map[string]string{
	"conversion factor":      "cf_value",
	"cf":                     "cf_value",
	"value":                  "cf_value",
	"type":                   "cf_type",
	"factor type":            "cf_type",
	"effective date":         "effective_from",
	"effective from":         "effective_from",
	"effective through":      "effective_to",
	"effective to":           "effective_to",
	"end date":               "effective_to",
}

// Parse implements the Parser interface.
func (p *ConversionFactorParser) Parse(in Input) (parsekit.ParseResult, error) {
	startedAt := in.now()
	if err := in.Meta.Validate(); err != nil {
		return parsekit.ParseResult{}, err
	}

	frame, enc, err := readTabularBody(in, cfHeaderAliases, ".csv")
	if err != nil {
		return parsekit.ParseResult{}, fmt.Errorf("while reading conversion factor body: %w", err)
	}

	metrics := parsekit.Metrics{
		EncodingDetected: enc.Name,
		EncodingFallback: enc.Fallback,
	}

	result, err := runTabularSteps(frame, p.schema, in, metrics, startedAt, func(f *parsekit.Frame) error {
		p.inferCFType(f, in)
		defaultEffectiveFrom(f, in.Meta)
		return nil
	})
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	p.checkKnownValues(&result, in)
	return result, nil
}

// inferCFType fills an omitted cf_type column when the filename or content
// makes it unambiguous (step 6). A file named "anesthesia_cf_2025.csv" with
// no type column is still a valid single-type publication.
func (p *ConversionFactorParser) inferCFType(frame *parsekit.Frame, in Input) {
	filename := strings.ToLower(in.Meta.SourceFilename)
	inferred := ""
	switch {
	case strings.Contains(filename, "anesthesia"):
		inferred = "anesthesia"
	case strings.Contains(filename, "physician"), strings.Contains(filename, "pfs"):
		inferred = "physician"
	}
	if inferred == "" {
		return
	}
	for idx := range frame.Rows {
		if _, present := frame.Rows[idx].Get("cf_type"); !present {
			frame.Rows[idx].Values["cf_type"] = inferred
		}
	}
	ensureColumn(frame, "cf_type")
}

// cfDeviationTolerance is the allowed deviation from a known CMS-published
// value before a WARN is emitted.
var cfDeviationTolerance = decimal.NewFromFloat(0.01)

// checkKnownValues compares parsed values against the published CMS table
// and emits WARN findings (never rejects) on deviation beyond the tolerance.
func (p *ConversionFactorParser) checkKnownValues(result *parsekit.ParseResult, in Input) {
	deviations := 0
	for _, row := range result.Data.Rows {
		cfType := row.Values["cf_type"]
		known, exists := core.KnownConversionFactors[cfType][p.yearOf(row)]
		if !exists {
			continue
		}
		parsed, err := decimal.NewFromString(row.Values["cf_value"])
		if err != nil {
			continue
		}
		if parsed.Sub(decimal.NewFromFloat(known)).Abs().GreaterThan(cfDeviationTolerance) {
			deviations++
			logg.Info("conversion factor %s for %d deviates from published value: parsed %s, expected %.4f",
				cfType, p.yearOf(row), parsed.String(), known)
		}
	}
	result.Metrics.SetExtra("known_value_deviations", deviations)
}

func (p *ConversionFactorParser) yearOf(row parsekit.Row) int {
	from := row.Values["effective_from"]
	if len(from) < 4 {
		return 0
	}
	year, err := strconv.Atoi(from[:4])
	if err != nil {
		return 0
	}
	return year
}
