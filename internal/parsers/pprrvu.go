// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"fmt"
	"strings"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// PPRRVUParser parses the physician fee schedule RVU file (PPRRVU).
// Accepted formats: the canonical fixed-width TXT, or CSV republications.
type PPRRVUParser struct {
	schema core.SchemaContract
}

// NewPPRRVUParser builds the parser against the schema registry.
func NewPPRRVUParser(schemas *core.SchemaRegistry) (Parser, error) {
	schema, err := schemas.Get("cms_pprrvu")
	if err != nil {
		return nil, err
	}
	return &PPRRVUParser{schema: schema}, nil
}

// Dataset implements the Parser interface.
func (p *PPRRVUParser) Dataset() string { return p.schema.Dataset }

var pprrvuHeaderAliases = map[string]string{
	"hcpcs code":               "hcpcs",
	"cpt/hcpcs":                "hcpcs",
	"mod":                      "modifier",
	"status":                   "status_code",
	"status code":              "status_code",
	"work rvu":                 "work_rvu",
	"non-fac pe rvu":           "pe_rvu_nonfac",
	"non fac pe rvu":           "pe_rvu_nonfac",
	"fully implemented non-fac pe rvu": "pe_rvu_nonfac",
	"fac pe rvu":               "pe_rvu_fac",
	"fully implemented fac pe rvu":     "pe_rvu_fac",
	"mp rvu":                   "mp_rvu",
	"malpractice rvu":          "mp_rvu",
	"na indicator":             "na_indicator",
	"glob days":                "global_days",
	"global":                   "global_days",
	"phys supervision of diag proc": "supervision_code",
	"physician supervision":         "supervision_code",
}

// Parse implements the Parser interface.
func (p *PPRRVUParser) Parse(in Input) (parsekit.ParseResult, error) {
	startedAt := in.now()
	if err := in.Meta.Validate(); err != nil {
		return parsekit.ParseResult{}, err
	}

	var (
		frame   parsekit.Frame
		metrics parsekit.Metrics
	)
	if strings.HasSuffix(strings.ToLower(in.Meta.SourceFilename), ".txt") {
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
		frame, enc, err = readTabularBody(in, pprrvuHeaderAliases, ".csv")
		if err != nil {
			return parsekit.ParseResult{}, fmt.Errorf("while reading PPRRVU body: %w", err)
		}
		metrics = parsekit.Metrics{EncodingDetected: enc.Name, EncodingFallback: enc.Fallback}
	}

	result, err := runTabularSteps(frame, p.schema, in, metrics, startedAt, func(f *parsekit.Frame) error {
		upcaseHCPCS(f)
		defaultEffectiveFrom(f, in.Meta)
		return nil
	})
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	result.Metrics.CountByDim(result.Data, "status_code")
	return result, nil
}

// upcaseHCPCS normalizes case before the pattern check; CMS files are upper
// case but CSV republications occasionally are not.
func upcaseHCPCS(frame *parsekit.Frame) {
	for idx := range frame.Rows {
		if code, present := frame.Rows[idx].Get("hcpcs"); present {
			frame.Rows[idx].Values["hcpcs"] = strings.ToUpper(code)
		}
	}
}
