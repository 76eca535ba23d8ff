// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"
	"golang.org/x/sync/errgroup"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/locfips"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
	"github.com/alex-bea/cms-api-sub001/internal/parsers"
	"github.com/alex-bea/cms-api-sub001/internal/validate"
)

// Stage names as recorded in the per-batch stage timings.
const (
	StageLand      = "land"
	StageValidate  = "validate"
	StageNormalize = "normalize"
	StageEnrich    = "enrich"
	StagePublish   = "publish"
)

// processingCostPerHourUSD is the flat compute rate used for the
// processing_cost_usd telemetry field.
const processingCostPerHourUSD = 0.12

// RunRecorder is the slice of the run-metadata store that the orchestrator
// needs. *RunStore implements it; tests substitute an in-memory fake.
type RunRecorder interface {
	CreateRun(run RunSeed, sourceFiles []LandedFile) (string, error)
	UpdateRunProgress(batchID string, progress RunProgress) error
	CompleteRun(batchID, status string, outputRecordCount int64, errorMessage, errorType string, processingCostUSD float64) error
}

// Enricher is the Enrich stage. The DB-backed implementation writes the
// geography tables; tests substitute a no-op.
type Enricher interface {
	Enrich(ctx context.Context, batchID string, results map[string]parsekit.ParseResult) (int64, error)
}

// NopEnricher satisfies Enricher without a database. Used when the pipeline
// runs artifact-only (and in unit tests).
type NopEnricher struct{}

// Enrich implements the Enricher interface.
func (NopEnricher) Enrich(_ context.Context, _ string, _ map[string]parsekit.ParseResult) (int64, error) {
	return 0, nil
}

// Orchestrator drives one batch through Land, Validate, Normalize, Enrich and
// Publish, and owns the batch record in the run-metadata store.
type Orchestrator struct {
	Config    core.Configuration
	Schemas   *core.SchemaRegistry
	Layouts   *core.LayoutRegistry
	Parsers   *parsers.Registry
	Lander    *Lander
	Publisher *Publisher
	Runs      RunRecorder
	Enricher  Enricher
	Reference *core.FIPSReference
	CreatedBy string

	// dependency injection slots for unit tests
	TimeNow  func() time.Time
	LogError func(msg string, args ...any)
}

// NewOrchestrator wires an orchestrator from its components.
func NewOrchestrator(cfg core.Configuration, schemas *core.SchemaRegistry, layouts *core.LayoutRegistry, registry *parsers.Registry, runs RunRecorder, enricher Enricher, ref *core.FIPSReference) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		Schemas:   schemas,
		Layouts:   layouts,
		Parsers:   registry,
		Lander:    NewLander(cfg.OutputDir, cfg.Pipeline),
		Publisher: NewPublisher(cfg.OutputDir),
		Runs:      runs,
		Enricher:  enricher,
		Reference: ref,
		CreatedBy: "cmspipe",
		TimeNow:   time.Now,
		LogError:  logg.Error,
	}
}

// IngestReport is the result of one completed batch.
type IngestReport struct {
	Status        string  `json:"status"`
	ReleaseID     string  `json:"release_id"`
	BatchID       string  `json:"batch_id"`
	RecordCount   int64   `json:"record_count"`
	QualityScore  float64 `json:"quality_score"`
	DISCompliance bool    `json:"dis_compliance"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// RunSeed carries the initial fields of a new batch record.
type RunSeed struct {
	DatasetName string
	ReleaseID   string
	VintageDate string
	ProductYear int
	SourceURL   string
	CreatedBy   string
}

// Ingest runs the full pipeline for one configured release. BLOCK-level
// errors terminate the batch with status=failed; WARN-level findings
// accumulate and reduce the quality score. The whole batch is bounded by
// max_processing_time_hours; exceeding it (or an external cancellation)
// yields status=cancelled.
func (o *Orchestrator) Ingest(ctx context.Context, releaseID string) (IngestReport, error) {
	release, exists := o.Config.FindRelease(releaseID)
	if !exists {
		return IngestReport{}, fmt.Errorf("no such release configured: %s", releaseID)
	}

	ctx, cancel := context.WithTimeout(ctx, o.Config.Pipeline.MaxProcessingTime())
	defer cancel()
	startedAt := o.TimeNow()

	// the batch record exists from the very start, so that a landing failure
	// is visible as a failed run; the configured sources stand in for the
	// landed files until Land delivers the real digests
	batchID, err := o.Runs.CreateRun(o.runSeed(release), configuredFiles(release))
	if err != nil {
		return IngestReport{}, fmt.Errorf("while creating run record: %w", err)
	}
	report := IngestReport{ReleaseID: releaseID, BatchID: batchID}

	fail := func(stageErr error) (IngestReport, error) {
		status := RunStatusOf(ctx, stageErr)
		errType := string(core.ClassifyError(stageErr))
		cost := o.costOf(startedAt)
		if err := o.Runs.CompleteRun(batchID, status, 0, stageErr.Error(), errType, cost); err != nil {
			o.LogError("while recording failure of batch %s: %s", batchID, err.Error())
		}
		report.Status = status
		report.ErrorMessage = stageErr.Error()
		return report, stageErr
	}

	// stage 1: Land (the only stage with internal retries)
	landed, err := o.Lander.Land(ctx, release)
	if err != nil {
		o.LogError("while landing release %s: %s", releaseID, err.Error())
		return fail(err)
	}
	timings := map[string]float64{StageLand: o.TimeNow().Sub(startedAt).Seconds()}

	// stage 2: Validate (parse all files, run the validator chain)
	stageStart := o.TimeNow()
	results, verdicts, warnings, err := o.validateStage(ctx, landed)
	if err != nil {
		return fail(err)
	}
	timings[StageValidate] = o.TimeNow().Sub(stageStart).Seconds()

	// stage 3: Normalize (locality FIPS expansion)
	stageStart = o.TimeNow()
	err = o.normalizeStage(results, verdicts, landed)
	if err != nil {
		return fail(err)
	}
	timings[StageNormalize] = o.TimeNow().Sub(stageStart).Seconds()

	// stage 4: Enrich (cross-dataset checks, geography table writes)
	stageStart = o.TimeNow()
	warnings = append(warnings, o.crossDatasetChecks(results, verdicts)...)
	if _, err := o.Enricher.Enrich(ctx, batchID, results); err != nil {
		return fail(fmt.Errorf("while enriching batch %s: %w", batchID, err))
	}
	timings[StageEnrich] = o.TimeNow().Sub(stageStart).Seconds()

	totalRows, validRows, rejectRows := tallyRows(results)
	quality := overallQuality(verdicts)
	err = o.Runs.UpdateRunProgress(batchID, RunProgress{
		TotalRows:        totalRows,
		ValidRows:        validRows,
		RejectRows:       rejectRows,
		QualityScore:     quality,
		SchemaID:         schemaIDsOf(results),
		StageTimings:     timings,
		ValidationResult: verdicts,
		SourceFiles:      landed,
	})
	if err != nil {
		return fail(fmt.Errorf("while updating run progress: %w", err))
	}

	// stage 5: Publish (parquet, quarantine, contracts, manifest)
	stageStart = o.TimeNow()
	published, err := o.publishStage(release, batchID, landed, results, verdicts, quality)
	if err != nil {
		return fail(err)
	}
	timings[StagePublish] = o.TimeNow().Sub(stageStart).Seconds()

	status := RunStatusSuccessValue
	if rejectRows > 0 || len(warnings) > 0 {
		status = RunStatusPartialValue
	}
	cost := o.costOf(startedAt)
	if err := o.Runs.CompleteRun(batchID, status, published, "", "", cost); err != nil {
		return fail(fmt.Errorf("while completing run: %w", err))
	}

	report.Status = status
	report.RecordCount = published
	report.QualityScore = quality
	report.DISCompliance = quality >= validate.DefaultQualityThreshold
	report.Warnings = warnings
	logg.Info("batch %s for release %s finished with status %s (%d records, quality %.3f)",
		batchID, releaseID, status, published, quality)
	return report, nil
}

// Terminal statuses, re-exported from the DB layer so that RunRecorder fakes
// do not need a DB import.
const (
	RunStatusSuccessValue   = "success"
	RunStatusPartialValue   = "partial"
	RunStatusFailedValue    = "failed"
	RunStatusCancelledValue = "cancelled"
)

// RunStatusOf distinguishes cancellation (deadline or external) from plain
// failure.
func RunStatusOf(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return RunStatusCancelledValue
	}
	return RunStatusFailedValue
}

// configuredFiles renders the release's sources as landed files without
// digests, for the initial source_files_json snapshot of a fresh batch.
func configuredFiles(release core.ReleaseConfiguration) []LandedFile {
	files := make([]LandedFile, len(release.Sources))
	for idx, source := range release.Sources {
		files[idx] = LandedFile{Source: source}
	}
	return files
}

func (o *Orchestrator) runSeed(release core.ReleaseConfiguration) RunSeed {
	datasets := make([]string, 0, len(release.Sources))
	sourceURL := ""
	for _, src := range release.Sources {
		datasets = append(datasets, src.Dataset)
		if sourceURL == "" {
			sourceURL = src.URL
		}
	}
	sort.Strings(datasets)
	return RunSeed{
		DatasetName: strings.Join(datasets, ","),
		ReleaseID:   release.ReleaseID,
		VintageDate: release.VintageDate,
		ProductYear: release.ProductYear,
		SourceURL:   sourceURL,
		CreatedBy:   o.CreatedBy,
	}
}

// validateStage parses every landed file (bounded fan-out) and runs the
// validator chain over each result. Any BLOCK verdict fails the stage.
func (o *Orchestrator) validateStage(ctx context.Context, landed []LandedFile) (map[string]parsekit.ParseResult, map[string]validate.BatchVerdict, []string, error) {
	results := make(map[string]parsekit.ParseResult, len(landed))
	type parsed struct {
		dataset string
		result  parsekit.ParseResult
	}
	out := make([]parsed, len(landed))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.Config.Pipeline.ParseParallelism)
	for idx, file := range landed {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			parser, exists := o.Parsers.Get(file.Source.Dataset)
			if !exists {
				return fmt.Errorf("no parser registered for dataset %q", file.Source.Dataset)
			}
			buf, err := os.ReadFile(file.Path)
			if err != nil {
				return fmt.Errorf("while re-reading landed file %s: %w", file.Path, err)
			}
			result, err := parser.Parse(parsers.Input{
				Bytes:       buf,
				ContentType: file.Source.ContentType,
				SourceURL:   file.Source.URL,
				Meta:        o.releaseMeta(file),
				Layouts:     o.Layouts,
				TimeNow:     o.TimeNow,
			})
			if err != nil {
				return fmt.Errorf("while parsing %s: %w", file.Source.Filename, err)
			}
			parsekit.ObserveParse(file.Source.Dataset, result.Metrics)
			out[idx] = parsed{dataset: file.Source.Dataset, result: result}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, nil, err
	}
	for _, p := range out {
		results[p.dataset] = p.result
	}

	verdicts := make(map[string]validate.BatchVerdict, len(results))
	var warnings []string
	for dataset, result := range results {
		schema, err := o.Schemas.Get(dataset)
		if err != nil {
			return nil, nil, nil, err
		}
		verdict := validate.Run(result.Data, validate.Context{Schema: schema, Now: o.TimeNow()})
		verdicts[dataset] = verdict
		if verdict.Failed {
			return nil, nil, nil, fmt.Errorf("validation failed for dataset %s (score %.3f)", dataset, verdict.OverallScore)
		}
		for _, report := range verdict.Reports {
			if report.WarningCount > 0 {
				warnings = append(warnings, fmt.Sprintf("%s/%s: %d warnings", dataset, report.RuleName, report.WarningCount))
			}
		}
	}
	sort.Strings(warnings)
	return results, verdicts, warnings, nil
}

// normalizeStage runs the stage-2 FIPS expansion when a stage-1 locality
// frame is present, adding cms_locality_county to the result set.
func (o *Orchestrator) normalizeStage(results map[string]parsekit.ParseResult, verdicts map[string]validate.BatchVerdict, landed []LandedFile) error {
	stage1, exists := results["cms_locality_raw"]
	if !exists {
		return nil
	}
	if o.Reference == nil {
		return core.InternalError{Reason: "locality normalization requires a FIPS reference table"}
	}
	schema, err := o.Schemas.Get("cms_locality_county")
	if err != nil {
		return err
	}

	var meta parsekit.ReleaseMeta
	for _, file := range landed {
		if file.Source.Dataset == "cms_locality_raw" {
			meta = o.releaseMeta(file)
			break
		}
	}

	normalizer := locfips.New(schema, o.Reference,
		o.Config.Pipeline.UseFuzzyCountyMatch, o.Config.Pipeline.FuzzyMatchThreshold)
	normalizer.TimeNow = o.TimeNow
	result, err := normalizer.Normalize(stage1.Data, meta)
	if err != nil {
		return fmt.Errorf("while normalizing localities: %w", err)
	}
	results[schema.Dataset] = result
	verdicts[schema.Dataset] = validate.Run(result.Data, validate.Context{Schema: schema, Now: o.TimeNow()})
	return nil
}

// crossDatasetChecks runs the referential validators that need more than one
// frame. Findings are WARN only.
func (o *Orchestrator) crossDatasetChecks(results map[string]parsekit.ParseResult, verdicts map[string]validate.BatchVerdict) (warnings []string) {
	zip9, hasZip9 := results["cms_zip9_overrides"]
	zip5, hasZip5 := results["cms_zip5_locality"]
	if !hasZip9 || !hasZip5 {
		return nil
	}
	report := validate.CrossDatasetZIP9(zip9.Data, zip5.Data)
	verdict := verdicts["cms_zip9_overrides"]
	verdict.Reports = append(verdict.Reports, report)
	verdicts["cms_zip9_overrides"] = verdict
	if report.FailedCount > 0 || report.WarningCount > 0 {
		warnings = append(warnings, fmt.Sprintf("cross_dataset_zip9: %d conflicts, %d warnings",
			report.FailedCount, report.WarningCount))
	}
	return warnings
}

// publishStage writes all artifacts and returns the published record count.
func (o *Orchestrator) publishStage(release core.ReleaseConfiguration, batchID string, landed []LandedFile, results map[string]parsekit.ParseResult, verdicts map[string]validate.BatchVerdict, quality float64) (int64, error) {
	manifest := RunManifest{
		BatchID:     batchID,
		ReleaseID:   release.ReleaseID,
		SourceFiles: landed,
		Datasets:    make(map[string]DatasetManifest, len(results)),
		Verdicts:    verdicts,
	}

	var published int64
	datasets := make([]string, 0, len(results))
	for dataset := range results {
		datasets = append(datasets, dataset)
	}
	sort.Strings(datasets)
	for _, dataset := range datasets {
		result := results[dataset]
		schema, err := o.Schemas.Get(dataset)
		if err != nil {
			return 0, err
		}
		if err := o.Publisher.WriteSchemaContract(schema, release.ReleaseID); err != nil {
			return 0, fmt.Errorf("while writing schema contract for %s: %w", dataset, err)
		}
		count, err := o.Publisher.PublishDataset(schema, release.ReleaseID, result)
		if err != nil {
			return 0, err
		}
		published += count
		manifest.Datasets[dataset] = DatasetManifest{
			SchemaID:        schema.ID(),
			PublishedRows:   count,
			QuarantinedRows: int64(result.Rejects.Len()),
			QualityScore:    verdicts[dataset].OverallScore,
		}
	}

	manifest.Status = RunStatusSuccessValue
	if quality < validate.DefaultQualityThreshold {
		manifest.Status = RunStatusPartialValue
	}
	if err := o.Publisher.WriteManifest(manifest); err != nil {
		return 0, fmt.Errorf("while writing run manifest: %w", err)
	}
	return published, nil
}

func (o *Orchestrator) releaseMeta(file LandedFile) parsekit.ReleaseMeta {
	release, _ := o.Config.FindRelease(releaseIDOf(file.Path))
	// the landed path is <output>/raw/<release_id>/files/<name>; falling back
	// to config lookup by path is only needed when tests hand-build files
	if release.ReleaseID == "" {
		for _, r := range o.Config.Releases {
			for _, src := range r.Sources {
				if src.Filename == file.Source.Filename {
					release = r
				}
			}
		}
	}
	return parsekit.ReleaseMeta{
		ReleaseID:      release.ReleaseID,
		VintageDate:    release.VintageDate,
		ProductYear:    release.ProductYear,
		QuarterVintage: release.QuarterVintage,
		SourceFilename: file.Source.Filename,
		SourceSHA256:   file.SHA256,
	}
}

// releaseIDOf recovers the release_id from a landed path of the shape
// <output>/raw/<release_id>/files/<filename>.
func releaseIDOf(path string) string {
	return filepath.Base(filepath.Dir(filepath.Dir(path)))
}

func (o *Orchestrator) costOf(startedAt time.Time) float64 {
	return o.TimeNow().Sub(startedAt).Hours() * processingCostPerHourUSD
}

func tallyRows(results map[string]parsekit.ParseResult) (total, valid, rejects int64) {
	for _, result := range results {
		total += int64(result.Metrics.TotalRows)
		valid += int64(result.Data.Len())
		rejects += int64(result.Rejects.Len())
	}
	return total, valid, rejects
}

func overallQuality(verdicts map[string]validate.BatchVerdict) float64 {
	if len(verdicts) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, verdict := range verdicts {
		sum += verdict.OverallScore
	}
	return sum / float64(len(verdicts))
}

func schemaIDsOf(results map[string]parsekit.ParseResult) string {
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if result.Metrics.SchemaID != "" {
			ids = append(ids, result.Metrics.SchemaID)
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
