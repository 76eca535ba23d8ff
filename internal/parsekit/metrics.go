// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is what every parser emits alongside its data and rejects.
type Metrics struct {
	TotalRows        int     `json:"total_rows"`
	ValidRows        int     `json:"valid_rows"`
	RejectRows       int     `json:"reject_rows"`
	RejectRate       float64 `json:"reject_rate"`
	EncodingDetected string  `json:"encoding_detected"`
	EncodingFallback bool    `json:"encoding_fallback"`
	ParseDurationSec float64 `json:"parse_duration_sec"`
	ParserVersion    string  `json:"parser_version"`
	SchemaID         string  `json:"schema_id"`
	LayoutVersion    string  `json:"layout_version,omitempty"`
	SkiprowsDynamic  int     `json:"skiprows_dynamic"`
	RangeRejectCount int     `json:"range_reject_count"`
	RangeWarnCount   int     `json:"range_warn_count"`
	DuplicateKeyRows int     `json:"duplicate_key_rows"`

	// RowCountByDim holds per-dimension row counts, keyed as
	// "row_count_by_<dim>" entries, e.g. RowCountByDim["state"]["CA"].
	RowCountByDim map[string]map[string]int `json:"row_count_by_dim,omitempty"`

	// Extra holds parser-specific stats.
	Extra map[string]any `json:"extra,omitempty"`
}

// Finish computes the derived fields. Parsers set TotalRows to the number of
// raw records read from the body; the join invariant then checks that no row
// was dropped on the floor. If a parser did not set it, it is derived.
func (m *Metrics) Finish(data Frame, rejects RejectFrame) {
	m.ValidRows = data.Len()
	m.RejectRows = rejects.Len()
	if m.TotalRows == 0 {
		m.TotalRows = m.ValidRows + m.RejectRows
	}
	if m.TotalRows > 0 {
		m.RejectRate = float64(m.RejectRows) / float64(m.TotalRows)
	}
}

// CountByDim tallies the data frame's rows along one column.
func (m *Metrics) CountByDim(data Frame, column string) {
	if m.RowCountByDim == nil {
		m.RowCountByDim = make(map[string]map[string]int)
	}
	counts := make(map[string]int)
	for _, row := range data.Rows {
		counts[row.Values[column]]++
	}
	m.RowCountByDim[column] = counts
}

// SetExtra records a parser-specific stat.
func (m *Metrics) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

// Prometheus collectors for pipeline-wide throughput. These are registered
// once by the orchestrator; parsers report through ObserveParse.
var (
	RowsParsedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmspipe_rows_parsed_total",
		Help: "Number of canonical rows produced, by dataset.",
	}, []string{"dataset"})

	RowsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmspipe_rows_rejected_total",
		Help: "Number of rows moved to quarantine, by dataset.",
	}, []string{"dataset"})

	ParseDurationSecs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmspipe_parse_duration_seconds",
		Help:    "Wall-clock duration of one parser invocation.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"dataset"})
)

// RegisterMetrics registers the parser-level collectors on the given
// registry.
func RegisterMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(RowsParsedTotal, RowsRejectedTotal, ParseDurationSecs)
}

// ObserveParse reports one finished parse into the Prometheus collectors.
func ObserveParse(dataset string, m Metrics) {
	RowsParsedTotal.WithLabelValues(dataset).Add(float64(m.ValidRows))
	RowsRejectedTotal.WithLabelValues(dataset).Add(float64(m.RejectRows))
	ParseDurationSecs.WithLabelValues(dataset).Observe(m.ParseDurationSec)
}
