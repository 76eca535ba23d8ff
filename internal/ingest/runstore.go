// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/gofrs/uuid"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// RunStore wraps the append-only ingestion_runs table. All writes are
// transactional per batch: a failed write leaves the prior snapshot intact.
type RunStore struct {
	DB *gorp.DbMap
	// TimeNow is usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

// NewRunStore builds a RunStore.
func NewRunStore(dbm *gorp.DbMap) *RunStore {
	return &RunStore{DB: dbm, TimeNow: time.Now}
}

// RunProgress carries the incremental metrics of update_run_progress.
type RunProgress struct {
	TotalRows        int64
	ValidRows        int64
	RejectRows       int64
	QualityScore     float64
	SchemaID         string
	StageTimings     map[string]float64 // stage name -> seconds
	ValidationResult any                // serialized as validation_json
	// SourceFiles, if set, replaces the source_files_json snapshot. The
	// orchestrator seeds the run with the configured sources before landing
	// and swaps in the landed files (with digests) here.
	SourceFiles []LandedFile
}

// CreateRun inserts a new running batch and returns its batch_id.
func (s *RunStore) CreateRun(seed RunSeed, sourceFiles []LandedFile) (string, error) {
	batchID, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	filesJSON, err := json.Marshal(sourceFiles)
	if err != nil {
		return "", err
	}

	run := db.IngestionRun{
		BatchID:          batchID.String(),
		DatasetName:      seed.DatasetName,
		ReleaseID:        seed.ReleaseID,
		VintageDate:      seed.VintageDate,
		ProductYear:      seed.ProductYear,
		SourceURL:        seed.SourceURL,
		CreatedBy:        seed.CreatedBy,
		Status:           db.RunStatusRunning,
		StartedAt:        s.TimeNow().UTC(),
		SourceFilesJSON:  string(filesJSON),
		StageTimingsJSON: "{}",
		ValidationJSON:   "{}",
		LineageJSON:      "{}",
		AlertsJSON:       "[]",
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return "", err
	}
	defer sqlext.RollbackUnlessCommitted(tx)
	if err := tx.Insert(&run); err != nil {
		return "", fmt.Errorf("while inserting ingestion run: %w", err)
	}
	return run.BatchID, tx.Commit()
}

// UpdateRunProgress merges incremental metrics into the running batch.
func (s *RunStore) UpdateRunProgress(batchID string, progress RunProgress) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	run, err := getRunForUpdate(tx, batchID)
	if err != nil {
		return err
	}

	run.TotalRows = progress.TotalRows
	run.ValidRows = progress.ValidRows
	run.RejectRows = progress.RejectRows
	run.QualityScore = progress.QualityScore
	if progress.SchemaID != "" {
		run.SchemaID = progress.SchemaID
	}
	if progress.StageTimings != nil {
		timings := make(map[string]float64)
		_ = json.Unmarshal([]byte(run.StageTimingsJSON), &timings)
		for stage, secs := range progress.StageTimings {
			timings[stage] = secs
		}
		buf, err := json.Marshal(timings)
		if err != nil {
			return err
		}
		run.StageTimingsJSON = string(buf)
	}
	if progress.ValidationResult != nil {
		buf, err := json.Marshal(progress.ValidationResult)
		if err != nil {
			return err
		}
		run.ValidationJSON = string(buf)
	}
	if progress.SourceFiles != nil {
		buf, err := json.Marshal(progress.SourceFiles)
		if err != nil {
			return err
		}
		run.SourceFilesJSON = string(buf)
	}

	if _, err := tx.Update(run); err != nil {
		return fmt.Errorf("while updating ingestion run %s: %w", batchID, err)
	}
	return tx.Commit()
}

// CompleteRun finalizes the batch with its terminal status.
func (s *RunStore) CompleteRun(batchID, status string, outputRecordCount int64, errorMessage, errorType string, processingCostUSD float64) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	run, err := getRunForUpdate(tx, batchID)
	if err != nil {
		return err
	}

	now := s.TimeNow().UTC()
	run.FinishedAt = &now
	run.Status = status
	run.OutputRecordCount = outputRecordCount
	run.ErrorMessage = errorMessage
	run.ErrorType = errorType
	run.ProcessingCostUSD = processingCostUSD

	if _, err := tx.Update(run); err != nil {
		return fmt.Errorf("while completing ingestion run %s: %w", batchID, err)
	}
	return tx.Commit()
}

func getRunForUpdate(tx *gorp.Transaction, batchID string) (*db.IngestionRun, error) {
	var run db.IngestionRun
	err := tx.SelectOne(&run,
		`SELECT * FROM ingestion_runs WHERE batch_id = $1 FOR UPDATE`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no such ingestion run: %s", batchID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRunMetadata returns the full batch record.
func (s *RunStore) GetRunMetadata(batchID string) (db.IngestionRun, error) {
	var run db.IngestionRun
	err := s.DB.SelectOne(&run,
		`SELECT * FROM ingestion_runs WHERE batch_id = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.IngestionRun{}, fmt.Errorf("no such ingestion run: %s", batchID)
	}
	return run, err
}

// GetRecentRuns returns the most recently started batches.
func (s *RunStore) GetRecentRuns(limit int) ([]db.IngestionRun, error) {
	var runs []db.IngestionRun
	_, err := s.DB.Select(&runs,
		`SELECT * FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	return runs, err
}

// GetRecentRunsForDataset returns the most recent batches of one dataset.
func (s *RunStore) GetRecentRunsForDataset(dataset string, limit int) ([]db.IngestionRun, error) {
	var runs []db.IngestionRun
	_, err := s.DB.Select(&runs,
		`SELECT * FROM ingestion_runs WHERE dataset_name = $1 ORDER BY started_at DESC LIMIT $2`, dataset, limit)
	return runs, err
}

// RunStatistics aggregates the batches of the trailing window.
type RunStatistics struct {
	TotalRuns          int64   `json:"total_runs"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSecs    float64 `json:"avg_duration_secs"`
	AvgQualityScore    float64 `json:"avg_quality_score"`
	RejectionRate      float64 `json:"rejection_rate"`
	TotalRowsProcessed int64   `json:"total_rows_processed"`
}

var runStatisticsQuery = sqlext.SimplifyWhitespace(`
	SELECT COUNT(*),
	       COALESCE(AVG(CASE WHEN status = 'success' THEN 1.0 ELSE 0.0 END), 0),
	       COALESCE(AVG(EXTRACT(EPOCH FROM (finished_at - started_at))), 0),
	       COALESCE(AVG(quality_score), 0),
	       COALESCE(SUM(reject_rows)::float / NULLIF(SUM(total_rows), 0), 0),
	       COALESCE(SUM(total_rows), 0)
	  FROM ingestion_runs
	 WHERE started_at >= $1
`)

// GetRunStatistics aggregates over the trailing number of days.
func (s *RunStore) GetRunStatistics(days int) (RunStatistics, error) {
	since := s.TimeNow().UTC().AddDate(0, 0, -days)
	var stats RunStatistics
	err := s.DB.QueryRow(runStatisticsQuery, since).Scan(
		&stats.TotalRuns, &stats.SuccessRate, &stats.AvgDurationSecs,
		&stats.AvgQualityScore, &stats.RejectionRate, &stats.TotalRowsProcessed)
	return stats, err
}
