// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"github.com/sapcc/go-bits/logg"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// LocalityParser is the stage-1, layout-faithful parse of the
// locality-to-county file (25LOCCO.txt). State names are forward-filled on
// continuation rows; duplicates are preserved because dedup and FIPS
// expansion are stage 2's job (package locfips).
type LocalityParser struct {
	schema core.SchemaContract
}

// NewLocalityParser builds the parser against the schema registry.
func NewLocalityParser(schemas *core.SchemaRegistry) (Parser, error) {
	schema, err := schemas.Get("cms_locality_raw")
	if err != nil {
		return nil, err
	}
	return &LocalityParser{schema: schema}, nil
}

// Dataset implements the Parser interface.
func (p *LocalityParser) Dataset() string { return p.schema.Dataset }

// Parse implements the Parser interface.
func (p *LocalityParser) Parse(in Input) (parsekit.ParseResult, error) {
	startedAt := in.now()
	if err := in.Meta.Validate(); err != nil {
		return parsekit.ParseResult{}, err
	}

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

	metrics := parsekit.Metrics{
		EncodingDetected: enc.Name,
		EncodingFallback: enc.Fallback,
		LayoutVersion:    layout.Version,
		SkiprowsDynamic:  fw.SkippedRows,
	}

	result, err := runTabularSteps(fw.Frame, p.schema, in, metrics, startedAt, func(f *parsekit.Frame) error {
		forwardFillState(f)
		return nil
	})
	if err != nil {
		return parsekit.ParseResult{}, err
	}

	// natural key (mac, locality_code) is only logged at stage 1
	if result.Metrics.DuplicateKeyRows > 0 {
		logg.Info("locality stage 1: %d rows share a (mac, locality_code) key in %s; stage 2 will expand them",
			result.Metrics.DuplicateKeyRows, in.Meta.SourceFilename)
	}
	result.Metrics.CountByDim(result.Data, "state_name")
	return result, nil
}

// forwardFillState copies state_name down onto continuation rows, which the
// fixed-width file leaves blank when a state spans multiple lines.
func forwardFillState(frame *parsekit.Frame) {
	last := ""
	for idx := range frame.Rows {
		if state, present := frame.Rows[idx].Get("state_name"); present {
			last = state
		} else if last != "" {
			frame.Rows[idx].Values["state_name"] = last
		}
	}
}
