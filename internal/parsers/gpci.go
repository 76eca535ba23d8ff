// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"fmt"
	"strings"

	"github.com/sapcc/go-bits/logg"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// GPCIParser parses the geographic practice cost index file. The canonical
// publication is fixed-width TXT (layout registry keyed by year.quarter);
// CSV and XLSX re-publications are accepted too.
type GPCIParser struct {
	schema core.SchemaContract
}

// NewGPCIParser builds the parser against the schema registry.
func NewGPCIParser(schemas *core.SchemaRegistry) (Parser, error) {
	schema, err := schemas.Get("cms_gpci")
	if err != nil {
		return nil, err
	}
	return &GPCIParser{schema: schema}, nil
}

// Dataset implements the Parser interface.
func (p *GPCIParser) Dataset() string { return p.schema.Dataset }

var gpciHeaderAliases = map[string]string{
	"medicare administrative contractor": "mac",
	"carrier":                            "mac",
	"locality number":                    "locality_code",
	"locality":                           "locality_code",
	"locality name":                      "locality_name",
	"pw gpci":                            "work_gpci",
	"work gpci":                          "work_gpci",
	"pe gpci":                            "pe_gpci",
	"mp gpci":                            "mp_gpci",
	"gpci work":                          "work_gpci",
	"gpci pe":                            "pe_gpci",
	"gpci mp":                            "mp_gpci",
}

// Parse implements the Parser interface.
func (p *GPCIParser) Parse(in Input) (parsekit.ParseResult, error) {
	startedAt := in.now()
	if err := in.Meta.Validate(); err != nil {
		return parsekit.ParseResult{}, err
	}

	var (
		frame   parsekit.Frame
		metrics parsekit.Metrics
	)
	if p.isFixedWidth(in) {
		layout, err := in.Layouts.Get(p.schema.Dataset, in.Meta.ProductYear, in.Meta.Quarter())
		if err != nil {
			return parsekit.ParseResult{}, err
		}
		text, enc, err := parsekit.SniffAndDecode(in.Bytes)
		if err != nil {
			return parsekit.ParseResult{}, core.EncodingError{Filename: in.Meta.SourceFilename, Reason: err.Error()}
		}
		fw, err := parsekit.ReadFixedWidth(text, layout)
		if err != nil {
			return parsekit.ParseResult{}, err
		}
		frame = fw.Frame
		metrics = parsekit.Metrics{
			EncodingDetected: enc.Name,
			EncodingFallback: enc.Fallback,
			LayoutVersion:    layout.Version,
			SkiprowsDynamic:  fw.SkippedRows,
		}
	} else {
		var (
			enc parsekit.EncodingResult
			err error
		)
		frame, enc, err = readTabularBody(in, gpciHeaderAliases, ".txt")
		if err != nil {
			return parsekit.ParseResult{}, fmt.Errorf("while reading GPCI body: %w", err)
		}
		metrics = parsekit.Metrics{EncodingDetected: enc.Name, EncodingFallback: enc.Fallback}
	}

	result, err := runTabularSteps(frame, p.schema, in, metrics, startedAt, func(f *parsekit.Frame) error {
		padLocalityCodes(f)
		defaultEffectiveFrom(f, in.Meta)
		return nil
	})
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	// ~109 Medicare localities are expected; a shortfall is suspicious but
	// not fatal (WARN)
	if count := result.Data.Len(); count != core.ExpectedGPCILocalityCount {
		logg.Info("GPCI file %s carries %d localities, expected %d",
			in.Meta.SourceFilename, count, core.ExpectedGPCILocalityCount)
		result.Metrics.SetExtra("locality_count_deviation", count-core.ExpectedGPCILocalityCount)
	}
	result.Metrics.CountByDim(result.Data, "mac")
	return result, nil
}

func (p *GPCIParser) isFixedWidth(in Input) bool {
	name := strings.ToLower(in.Meta.SourceFilename)
	return strings.HasSuffix(name, ".txt")
}

// padLocalityCodes left-pads numeric locality codes to two digits; CSV
// republications drop the leading zero that the fixed-width layout keeps.
func padLocalityCodes(frame *parsekit.Frame) {
	for idx := range frame.Rows {
		if code, present := frame.Rows[idx].Get("locality_code"); present && len(code) == 1 {
			frame.Rows[idx].Values["locality_code"] = "0" + code
		}
	}
}
