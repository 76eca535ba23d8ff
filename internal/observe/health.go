// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package observe computes dataset health reports from run metadata and the
// live database schema, and fires alerts on declarative rules.
package observe

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-gorp/gorp/v3"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// MetricStatus grades one health metric.
type MetricStatus string

const (
	StatusHealthy  MetricStatus = "healthy"
	StatusWarning  MetricStatus = "warning"
	StatusCritical MetricStatus = "critical"
)

// Pillar names as used in Metric.MetricType.
const (
	PillarFreshness = "freshness"
	PillarVolume    = "volume"
	PillarSchema    = "schema"
	PillarQuality   = "quality"
	PillarLineage   = "lineage"
)

// pillarWeights are the fixed weights of the overall health score.
var pillarWeights = map[string]float64{
	PillarFreshness: 0.25,
	PillarVolume:    0.20,
	PillarSchema:    0.20,
	PillarQuality:   0.25,
	PillarLineage:   0.10,
}

// Metric is one measured value within a pillar.
type Metric struct {
	MetricType string         `json:"metric_type"`
	MetricName string         `json:"metric_name"`
	Value      float64        `json:"value"`
	Threshold  float64        `json:"threshold"`
	Status     MetricStatus   `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// HealthReport is the full observability report for one dataset.
type HealthReport struct {
	DatasetName        string    `json:"dataset_name"`
	ReportTimestamp    time.Time `json:"report_timestamp"`
	OverallHealthScore float64   `json:"overall_health_score"`
	Metrics            []Metric  `json:"metrics"`
	Alerts             []db.Alert `json:"alerts"`
	Recommendations    []string  `json:"recommendations"`
}

// RunSource provides the run history that the monitor reads. Implemented by
// ingest.RunStore; tests use an in-memory fake.
type RunSource interface {
	GetRecentRunsForDataset(dataset string, limit int) ([]db.IngestionRun, error)
}

// SchemaSource reports the live column set of a published table.
type SchemaSource interface {
	LiveColumns(table string) ([]string, error)
}

// DBSchemaSource reads the live schema from information_schema.
type DBSchemaSource struct {
	DB *gorp.DbMap
}

// LiveColumns implements the SchemaSource interface.
func (s DBSchemaSource) LiveColumns(table string) ([]string, error) {
	var columns []string
	_, err := s.DB.Select(&columns,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`,
		table)
	return columns, err
}

// recentRunWindow is how many trailing runs feed the volume baseline and the
// quality average.
const recentRunWindow = 10

// defaultCadenceHours applies when a schema contract does not declare its
// release cadence. CMS reference files ship quarterly.
const defaultCadenceHours = 24 * 92

// Monitor computes health reports.
type Monitor struct {
	Runs    RunSource
	Schemas *core.SchemaRegistry
	Live    SchemaSource
	Cfg     core.AlertRuleConfigurations

	// dependency injection slot (usually time.Now, except in tests)
	TimeNow func() time.Time
}

// NewMonitor builds a Monitor.
func NewMonitor(runs RunSource, schemas *core.SchemaRegistry, live SchemaSource, cfg core.AlertRuleConfigurations) *Monitor {
	return &Monitor{Runs: runs, Schemas: schemas, Live: live, Cfg: cfg, TimeNow: time.Now}
}

// Report computes the health report for one dataset.
func (m *Monitor) Report(dataset string) (HealthReport, error) {
	contract, err := m.Schemas.Get(dataset)
	if err != nil {
		return HealthReport{}, err
	}
	runs, err := m.Runs.GetRecentRunsForDataset(dataset, recentRunWindow)
	if err != nil {
		return HealthReport{}, fmt.Errorf("while loading run history for %s: %w", dataset, err)
	}

	now := m.TimeNow().UTC()
	report := HealthReport{
		DatasetName:     dataset,
		ReportTimestamp: now,
		Alerts:          []db.Alert{},
		Recommendations: []string{},
	}

	scores := make(map[string]float64, len(pillarWeights))
	scores[PillarFreshness] = m.freshness(contract, runs, now, &report)
	scores[PillarVolume] = m.volume(runs, now, &report)
	scores[PillarSchema] = m.schema(contract, now, &report)
	scores[PillarQuality] = m.quality(contract, runs, now, &report)
	scores[PillarLineage] = m.lineage(runs, now, &report)

	var weighted float64
	for pillar, weight := range pillarWeights {
		weighted += weight * scores[pillar]
	}
	report.OverallHealthScore = weighted
	return report, nil
}

func statusScore(status MetricStatus) float64 {
	switch status {
	case StatusHealthy:
		return 1.0
	case StatusWarning:
		return 0.5
	default:
		return 0.0
	}
}

// freshness grades the age of the newest run against the dataset's release
// cadence plus a grace window.
func (m *Monitor) freshness(contract core.SchemaContract, runs []db.IngestionRun, now time.Time, report *HealthReport) float64 {
	cadence := contract.ExpectedCadenceHours
	if cadence <= 0 {
		cadence = defaultCadenceHours
	}
	grace := m.Cfg.FreshnessGraceHr

	status := StatusCritical
	ageHours := math.Inf(1)
	if len(runs) > 0 {
		ageHours = now.Sub(runs[0].StartedAt).Hours()
		switch {
		case ageHours <= cadence:
			status = StatusHealthy
		case ageHours <= cadence+grace:
			status = StatusWarning
		}
	}
	if status != StatusHealthy {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("dataset %s has not been ingested within its cadence of %.0f hours", contract.Dataset, cadence))
	}

	value := ageHours
	if math.IsInf(value, 1) {
		value = -1 // no run on record
	}
	report.Metrics = append(report.Metrics, Metric{
		MetricType: PillarFreshness,
		MetricName: "age_hours",
		Value:      value,
		Threshold:  cadence,
		Status:     status,
		Timestamp:  now,
	})
	return statusScore(status)
}

// volume compares the newest run's record count against the trailing average
// of successful runs, with the configured tolerance.
func (m *Monitor) volume(runs []db.IngestionRun, now time.Time, report *HealthReport) float64 {
	tolerance := m.Cfg.VolumeTolerance

	var (
		current  float64
		expected float64
		count    int
	)
	if len(runs) > 0 {
		current = float64(runs[0].OutputRecordCount)
		for _, run := range runs[1:] {
			if run.Status == db.RunStatusSuccess || run.Status == db.RunStatusPartial {
				expected += float64(run.OutputRecordCount)
				count++
			}
		}
	}
	if count > 0 {
		expected /= float64(count)
	}

	status := StatusHealthy
	score := 1.0
	switch {
	case len(runs) == 0:
		status, score = StatusCritical, 0.0
	case current == 0:
		status, score = StatusCritical, 0.0
		report.Recommendations = append(report.Recommendations,
			"latest run published zero records; check the source feed")
	case expected > 0 && current < 0.5*expected:
		status, score = StatusCritical, 0.0
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("record count dropped below half of the trailing average (%.0f vs %.0f)", current, expected))
	case expected > 0 && math.Abs(current-expected)/expected > tolerance:
		status, score = StatusWarning, 0.5
	}

	meta := map[string]any{"expected": expected, "tolerance": tolerance}
	report.Metrics = append(report.Metrics, Metric{
		MetricType: PillarVolume,
		MetricName: "record_count",
		Value:      current,
		Threshold:  expected,
		Status:     status,
		Timestamp:  now,
		Metadata:   meta,
	})
	return score
}

// schemaThreshold is the minimum drift score before the schema pillar goes
// critical.
const schemaThreshold = 0.9

// schema compares the live table layout against the registered contract.
// Missing columns cost 0.10 each, unexpected extras 0.05 each.
func (m *Monitor) schema(contract core.SchemaContract, now time.Time, report *HealthReport) float64 {
	want := make(map[string]bool)
	for _, name := range contract.ColumnNames() {
		want[name] = true
	}
	for _, name := range core.MetadataColumns {
		want[name] = true
	}

	live, err := m.Live.LiveColumns(contract.Dataset)
	if err != nil || len(live) == 0 {
		// table not yet published; grade neutral-warning rather than failing
		// the whole report
		report.Metrics = append(report.Metrics, Metric{
			MetricType: PillarSchema,
			MetricName: "drift_score",
			Value:      0.5,
			Threshold:  schemaThreshold,
			Status:     StatusWarning,
			Timestamp:  now,
		})
		return 0.5
	}

	have := make(map[string]bool, len(live))
	var extras []string
	for _, name := range live {
		have[name] = true
		if !want[name] {
			extras = append(extras, name)
		}
	}
	var missing []string
	for name := range want {
		if !have[name] {
			missing = append(missing, name)
		}
	}

	score := 1.0 - 0.10*float64(len(missing)) - 0.05*float64(len(extras))
	if score < 0 {
		score = 0
	}
	status := StatusHealthy
	if score < schemaThreshold {
		status = StatusCritical
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("schema drift detected for %s: %d missing, %d unexpected columns", contract.Dataset, len(missing), len(extras)))
	} else if len(extras) > 0 {
		status = StatusWarning
	}

	report.Metrics = append(report.Metrics, Metric{
		MetricType: PillarSchema,
		MetricName: "drift_score",
		Value:      score,
		Threshold:  schemaThreshold,
		Status:     status,
		Timestamp:  now,
		Metadata:   map[string]any{"missing_columns": missing, "extra_columns": extras},
	})
	return score
}

const (
	qualityThreshold      = 0.95
	completenessThreshold = 0.99
)

// quality averages the stored per-run quality scores, weighted by run volume,
// and extracts field completeness from the validation blob of the newest run.
func (m *Monitor) quality(contract core.SchemaContract, runs []db.IngestionRun, now time.Time, report *HealthReport) float64 {
	var (
		weightedSum float64
		totalRows   float64
	)
	for _, run := range runs {
		if run.TotalRows == 0 {
			continue
		}
		weightedSum += run.QualityScore * float64(run.TotalRows)
		totalRows += float64(run.TotalRows)
	}
	avgQuality := 1.0
	if totalRows > 0 {
		avgQuality = weightedSum / totalRows
	}

	status := StatusHealthy
	if avgQuality < qualityThreshold {
		status = StatusCritical
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("average quality score %.3f is below the %.2f threshold", avgQuality, qualityThreshold))
	}
	report.Metrics = append(report.Metrics, Metric{
		MetricType: PillarQuality,
		MetricName: "avg_quality_score",
		Value:      avgQuality,
		Threshold:  qualityThreshold,
		Status:     status,
		Timestamp:  now,
	})

	completeness := completenessOfNewestRun(runs)
	complStatus := StatusHealthy
	if completeness < completenessThreshold {
		complStatus = StatusWarning
	}
	report.Metrics = append(report.Metrics, Metric{
		MetricType: PillarQuality,
		MetricName: "critical_column_completeness",
		Value:      completeness,
		Threshold:  completenessThreshold,
		Status:     complStatus,
		Timestamp:  now,
		Metadata:   map[string]any{"critical_columns": contract.CriticalColumns},
	})

	return statusScore(status)
}

// completenessOfNewestRun digs the completeness figure out of the newest
// run's validation blob, defaulting to 1.0 when absent.
func completenessOfNewestRun(runs []db.IngestionRun) float64 {
	if len(runs) == 0 {
		return 1.0
	}
	var blob struct {
		Completeness float64 `json:"completeness"`
	}
	if err := json.Unmarshal([]byte(runs[0].ValidationJSON), &blob); err != nil || blob.Completeness == 0 {
		return 1.0
	}
	return blob.Completeness
}

const lineageThreshold = 0.8

// lineage grades provenance coverage: how many runs we have, how many
// distinct source files fed them, and how recently.
func (m *Monitor) lineage(runs []db.IngestionRun, now time.Time, report *HealthReport) float64 {
	// source_files_json holds the run's landed files; the filename sits on
	// the embedded source configuration
	distinctSources := make(map[string]bool)
	for _, run := range runs {
		var files []struct {
			Source struct {
				Filename string `json:"filename"`
			} `json:"source"`
		}
		if err := json.Unmarshal([]byte(run.SourceFilesJSON), &files); err == nil {
			for _, f := range files {
				if f.Source.Filename != "" {
					distinctSources[f.Source.Filename] = true
				}
			}
		}
	}

	score := 0.0
	if len(runs) > 0 {
		score += 0.5
		if len(distinctSources) > 0 {
			score += 0.3
		}
		if now.Sub(runs[0].StartedAt).Hours() <= m.Cfg.StaleAfterHours {
			score += 0.2
		}
	}
	status := StatusHealthy
	if score < lineageThreshold {
		status = StatusWarning
	}

	meta := map[string]any{
		"run_count":        len(runs),
		"distinct_sources": len(distinctSources),
	}
	if len(runs) > 0 {
		meta["last_ingestion"] = runs[0].StartedAt.UTC().Format(time.RFC3339)
		meta["first_ingestion"] = runs[len(runs)-1].StartedAt.UTC().Format(time.RFC3339)
		meta["hours_since_last"] = now.Sub(runs[0].StartedAt).Hours()
	}
	report.Metrics = append(report.Metrics, Metric{
		MetricType: PillarLineage,
		MetricName: "lineage_score",
		Value:      score,
		Threshold:  lineageThreshold,
		Status:     status,
		Timestamp:  now,
		Metadata:   meta,
	})
	return score
}
