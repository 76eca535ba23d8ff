// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package parsers implements the format-specific CMS file parsers. Every
// parser follows the same 11-step template built on the parser kit:
// preflight metadata, head-sniff the encoding, read the body, normalize
// column names, normalize strings, infer omitted columns, categorical
// validation, typed casting, range validation, natural-key uniqueness, and
// finalization with metadata injection.
package parsers

import (
	"time"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// ParserVersion is stamped into the metrics of every parse.
const ParserVersion = "cmspipe/1.4.0"

// Input is everything a parser needs for one file.
type Input struct {
	Bytes       []byte
	ContentType string
	SourceURL   string
	Meta        parsekit.ReleaseMeta
	Layouts     *core.LayoutRegistry
	// TimeNow is usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

func (in Input) now() time.Time {
	if in.TimeNow != nil {
		return in.TimeNow()
	}
	return time.Now()
}

// Parser is one format-specific parser. Parse returns the full
// (data, rejects, metrics) triple; BLOCK-level failures return an error and
// no result.
type Parser interface {
	Dataset() string
	Parse(in Input) (parsekit.ParseResult, error)
}

// Registry maps dataset names to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry over the given parsers.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers[p.Dataset()] = p
	}
	return r
}

// NewDefaultRegistry registers all built-in parsers against the given schema
// registry.
func NewDefaultRegistry(schemas *core.SchemaRegistry) (*Registry, error) {
	list := []Parser{}
	for _, build := range []func(*core.SchemaRegistry) (Parser, error){
		NewPPRRVUParser,
		NewGPCIParser,
		NewConversionFactorParser,
		NewLocalityParser,
		NewZIP5LocalityParser,
		NewZIP9OverrideParser,
	} {
		p, err := build(schemas)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return NewRegistry(list...), nil
}

// Get returns the parser for the given dataset, or false.
func (r *Registry) Get(dataset string) (Parser, bool) {
	p, exists := r.parsers[dataset]
	return p, exists
}
