// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/sapcc/go-bits/logg"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
	"github.com/alex-bea/cms-api-sub001/internal/validate"
)

// parquetRowGroupSize bounds the rows per parquet row group.
const parquetRowGroupSize = 100_000

// Publisher is the Publish stage: it writes the canonical parquet files,
// the quarantine tree, the schema contract document and the run manifest.
type Publisher struct {
	OutputDir string
	// TimeNow is usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

// NewPublisher builds a Publisher.
func NewPublisher(outputDir string) *Publisher {
	return &Publisher{OutputDir: outputDir, TimeNow: time.Now}
}

// PublishDataset writes one dataset's canonical frame under
// curated/<dataset>/<release_id>/ and its rejects under
// quarantine/<release_id>/. Returns the number of published records.
func (p *Publisher) PublishDataset(schema core.SchemaContract, releaseID string, result parsekit.ParseResult) (int64, error) {
	curatedDir := filepath.Join(p.OutputDir, "curated", schema.Dataset, releaseID)
	if err := os.MkdirAll(curatedDir, 0o755); err != nil {
		return 0, err
	}

	// column order of the parquet file is column_order plus the metadata
	// columns, in that order
	columns := append(append([]string{}, schema.ColumnOrder...), core.MetadataColumns...)
	path := filepath.Join(curatedDir, schema.Dataset+".parquet")
	if err := writeParquet(path, schema.Dataset, columns, result.Data.Rows); err != nil {
		return 0, fmt.Errorf("while writing %s: %w", path, err)
	}

	if err := p.writeQuarantine(schema, releaseID, result.Rejects); err != nil {
		return 0, err
	}
	if err := p.writeReadme(curatedDir, schema, releaseID, int64(result.Data.Len()), int64(result.Rejects.Len())); err != nil {
		return 0, fmt.Errorf("while writing README for %s: %w", schema.Dataset, err)
	}
	logg.Info("published %d rows of %s for release %s (%d quarantined)",
		result.Data.Len(), schema.Dataset, releaseID, result.Rejects.Len())
	return int64(result.Data.Len()), nil
}

// writeQuarantine groups the rejects by rule and writes one parquet file per
// rule under quarantine/<release_id>/.
func (p *Publisher) writeQuarantine(schema core.SchemaContract, releaseID string, rejects parsekit.RejectFrame) error {
	if rejects.Len() == 0 {
		return nil
	}
	quarantineDir := filepath.Join(p.OutputDir, "quarantine", releaseID)
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return err
	}

	byRule := make(map[string][]parsekit.Row)
	for _, reject := range rejects.Rows {
		row := reject.Row.Clone()
		row.Values["validation_rule_id"] = reject.RuleID
		row.Values["validation_severity"] = string(reject.Severity)
		row.Values["validation_error"] = reject.ErrorMsg
		row.Values["schema_id"] = reject.SchemaID
		row.Values["release_id"] = reject.ReleaseID
		byRule[reject.RuleID] = append(byRule[reject.RuleID], row)
	}

	for ruleID, rows := range byRule {
		columns := append(append([]string{}, schema.ColumnNames()...),
			"validation_rule_id", "validation_severity", "validation_error", "schema_id", "release_id")
		path := filepath.Join(quarantineDir, fmt.Sprintf("%s_%s.parquet", schema.Dataset, ruleID))
		if err := writeParquet(path, schema.Dataset+"_rejects", columns, rows); err != nil {
			return fmt.Errorf("while writing quarantine file %s: %w", path, err)
		}
	}
	return nil
}

// writeReadme writes curated/<dataset>/<release_id>/README.md so that the
// published directory documents itself.
func (p *Publisher) writeReadme(curatedDir string, schema core.SchemaContract, releaseID string, published, quarantined int64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", schema.Dataset)
	if schema.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", schema.Description)
	}
	fmt.Fprintf(&b, "- Release: %s\n", releaseID)
	fmt.Fprintf(&b, "- Schema: %s\n", schema.ID())
	fmt.Fprintf(&b, "- Published rows: %d\n", published)
	fmt.Fprintf(&b, "- Quarantined rows: %d\n", quarantined)
	if schema.Source != "" {
		fmt.Fprintf(&b, "- Source: %s\n", schema.Source)
	}
	if schema.License != "" {
		fmt.Fprintf(&b, "- License: %s\n", schema.License)
	}
	fmt.Fprintf(&b, "- Written: %s\n", p.TimeNow().UTC().Format(time.RFC3339))
	if schema.AttributionRequired {
		b.WriteString("\nDerived from files published by the Centers for Medicare & Medicaid Services. Attribution to CMS is required on redistribution.\n")
	}
	return os.WriteFile(filepath.Join(curatedDir, "README.md"), []byte(b.String()), 0o644)
}

// WriteSchemaContract writes stage/<release_id>/schema_contract.json.
func (p *Publisher) WriteSchemaContract(schema core.SchemaContract, releaseID string) error {
	stageDir := filepath.Join(p.OutputDir, "stage", releaseID)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return err
	}
	buf, err := schema.MarshalDocument(p.TimeNow())
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stageDir, schema.Dataset+"_schema_contract.json"), buf, 0o644)
}

// RunManifest is the per-run record written to manifests/<batch_id>.json.
type RunManifest struct {
	BatchID     string                      `json:"batch_id"`
	ReleaseID   string                      `json:"release_id"`
	Status      string                      `json:"status"`
	WrittenAt   string                      `json:"written_at"`
	SourceFiles []LandedFile                `json:"source_files"`
	Datasets    map[string]DatasetManifest  `json:"datasets"`
	Verdicts    map[string]validate.BatchVerdict `json:"verdicts,omitempty"`
}

// DatasetManifest summarizes one dataset within the run manifest.
type DatasetManifest struct {
	SchemaID       string  `json:"schema_id"`
	PublishedRows  int64   `json:"published_rows"`
	QuarantinedRows int64  `json:"quarantined_rows"`
	QualityScore   float64 `json:"quality_score"`
}

// WriteManifest writes the run manifest.
func (p *Publisher) WriteManifest(manifest RunManifest) error {
	manifestDir := filepath.Join(p.OutputDir, "manifests")
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return err
	}
	manifest.WrittenAt = p.TimeNow().UTC().Format(time.RFC3339)
	buf, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(manifestDir, manifest.BatchID+".json"), buf, 0o644)
}

// writeParquet writes rows as snappy-compressed parquet with all columns as
// optional strings (NULL for missing keys), flushing a row group every
// parquetRowGroupSize rows.
func writeParquet(path, name string, columns []string, rows []parsekit.Row) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeParquetRows(file, name, columns, rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeParquetRows(out io.Writer, name string, columns []string, rows []parsekit.Row) error {
	fields := make(parquet.Group, len(columns))
	for _, col := range columns {
		fields[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema(name, fields)

	writer := parquet.NewGenericWriter[map[string]any](out, schema,
		parquet.Compression(&parquet.Snappy))

	batch := make([]map[string]any, 0, 1024)
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	written := 0
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for _, col := range columns {
			if value, present := row.Get(col); present {
				record[col] = value
			}
		}
		batch = append(batch, record)
		written++
		if len(batch) == cap(batch) {
			if err := flushBatch(); err != nil {
				return err
			}
		}
		if written%parquetRowGroupSize == 0 {
			if err := flushBatch(); err != nil {
				return err
			}
			if err := writer.Flush(); err != nil {
				return err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return err
	}
	return writer.Close()
}
