// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package validate contains the post-parse validator set. Validators are
// pure functions over a canonical frame; they never mutate it. The Validate
// pipeline stage runs every applicable validator and aggregates the reports
// into a batch verdict.
package validate

import (
	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// MaxSampleFailures bounds the evidence carried per report.
const MaxSampleFailures = 10

// Default thresholds of the aggregated verdict.
const (
	DefaultQualityThreshold      = 0.95
	DefaultCompletenessThreshold = 0.99
)

// ValidationReport is the result of one validator run.
type ValidationReport struct {
	RuleName       string        `json:"rule_name"`
	Description    string        `json:"description"`
	Severity       core.Severity `json:"severity"`
	PassedCount    int           `json:"passed_count"`
	FailedCount    int           `json:"failed_count"`
	WarningCount   int           `json:"warning_count"`
	QualityScore   float64       `json:"quality_score"` // in [0,1]
	Threshold      float64       `json:"threshold"`
	SampleFailures []string      `json:"sample_failures,omitempty"`
}

// Passed reports whether this rule met its threshold. BLOCK rules with any
// failure never pass.
func (r ValidationReport) Passed() bool {
	if r.Severity == core.SeverityBlock && r.FailedCount > 0 {
		return false
	}
	return r.QualityScore >= r.Threshold
}

func (r *ValidationReport) addFailure(sample string) {
	r.FailedCount++
	if len(r.SampleFailures) < MaxSampleFailures {
		r.SampleFailures = append(r.SampleFailures, sample)
	}
}

// BatchVerdict aggregates all reports of one dataset within one batch.
// The overall quality score is the unweighted mean of the rule scores;
// any BLOCK failure forces Failed regardless of score.
type BatchVerdict struct {
	Dataset      string             `json:"dataset"`
	Reports      []ValidationReport `json:"reports"`
	OverallScore float64            `json:"overall_score"`
	Failed       bool               `json:"failed"`
}

// Aggregate computes the batch verdict from individual reports.
func Aggregate(dataset string, reports []ValidationReport) BatchVerdict {
	verdict := BatchVerdict{Dataset: dataset, Reports: reports}
	if len(reports) == 0 {
		verdict.OverallScore = 1.0
		return verdict
	}
	sum := 0.0
	for _, report := range reports {
		sum += report.QualityScore
		if report.Severity == core.SeverityBlock && report.FailedCount > 0 {
			verdict.Failed = true
		}
	}
	verdict.OverallScore = sum / float64(len(reports))
	if verdict.OverallScore < DefaultQualityThreshold {
		verdict.Failed = true
	}
	return verdict
}
