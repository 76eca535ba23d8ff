// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsers"
)

type completedRun struct {
	BatchID      string
	Status       string
	OutputCount  int64
	ErrorMessage string
	ErrorType    string
}

type fakeRunRecorder struct {
	seed      RunSeed
	files     []LandedFile
	progress  []RunProgress
	completed []completedRun
}

func (f *fakeRunRecorder) CreateRun(seed RunSeed, sourceFiles []LandedFile) (string, error) {
	f.seed = seed
	f.files = sourceFiles
	return "batch-0001", nil
}

func (f *fakeRunRecorder) UpdateRunProgress(batchID string, progress RunProgress) error {
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeRunRecorder) CompleteRun(batchID, status string, outputRecordCount int64, errorMessage, errorType string, processingCostUSD float64) error {
	f.completed = append(f.completed, completedRun{
		BatchID:      batchID,
		Status:       status,
		OutputCount:  outputRecordCount,
		ErrorMessage: errorMessage,
		ErrorType:    errorType,
	})
	return nil
}

// cfServer serves one conversion factor CSV under /cf2025.csv.
func cfServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cf2025.csv" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func testOrchestrator(t *testing.T, serverURL string) (*Orchestrator, *fakeRunRecorder) {
	t.Helper()
	schemas, err := core.NewDefaultSchemaRegistry()
	require.NoError(t, err)
	registry, err := parsers.NewDefaultRegistry(schemas)
	require.NoError(t, err)

	cfg := core.Configuration{
		OutputDir: t.TempDir(),
		Pipeline:  testPipelineCfg(),
		Releases: []core.ReleaseConfiguration{{
			ReleaseID:      "cf2025a",
			VintageDate:    "2025-01-01",
			ProductYear:    2025,
			QuarterVintage: "2025Q1",
			Sources: []core.SourceConfiguration{{
				URL:         serverURL + "/cf2025.csv",
				Filename:    "cf2025.csv",
				ContentType: "text/csv",
				Dataset:     "cms_conversion_factor",
			}},
		}},
	}

	runs := &fakeRunRecorder{}
	o := NewOrchestrator(cfg, schemas, core.NewDefaultLayoutRegistry(), registry, runs, NopEnricher{}, nil)
	o.TimeNow = func() time.Time { return landTestNow }
	o.Lander.TimeNow = o.TimeNow
	o.Publisher.TimeNow = o.TimeNow
	o.LogError = func(msg string, args ...any) {}
	return o, runs
}

func TestIngestHappyPath(t *testing.T) {
	server := cfServer(t,
		"cf_type,cf_value,effective_from\n"+
			"physician,32.3465,2025-01-01\n"+
			"anesthesia,20.3178,2025-01-01\n")
	o, runs := testOrchestrator(t, server.URL)

	report, err := o.Ingest(t.Context(), "cf2025a")
	require.NoError(t, err)

	assert.Equal(t, RunStatusSuccessValue, report.Status)
	assert.Equal(t, "cf2025a", report.ReleaseID)
	assert.Equal(t, "batch-0001", report.BatchID)
	assert.Equal(t, int64(2), report.RecordCount)
	assert.Equal(t, 1.0, report.QualityScore)
	assert.True(t, report.DISCompliance)
	assert.Empty(t, report.Warnings)

	assert.Equal(t, "cms_conversion_factor", runs.seed.DatasetName)
	assert.Equal(t, "cmspipe", runs.seed.CreatedBy)
	// the run is seeded with the configured sources; the landed files with
	// their digests arrive via the progress update
	require.Len(t, runs.files, 1)
	assert.Empty(t, runs.files[0].SHA256)

	require.Len(t, runs.progress, 1)
	progress := runs.progress[0]
	require.Len(t, progress.SourceFiles, 1)
	assert.NotEmpty(t, progress.SourceFiles[0].SHA256)
	assert.Equal(t, int64(2), progress.TotalRows)
	assert.Equal(t, int64(2), progress.ValidRows)
	assert.Zero(t, progress.RejectRows)
	assert.Equal(t, "cms_conversion_factor_v1.0", progress.SchemaID)
	for _, stage := range []string{StageLand, StageValidate, StageNormalize, StageEnrich} {
		assert.Contains(t, progress.StageTimings, stage)
	}

	require.Len(t, runs.completed, 1)
	assert.Equal(t, RunStatusSuccessValue, runs.completed[0].Status)
	assert.Equal(t, int64(2), runs.completed[0].OutputCount)

	outputDir := o.Config.OutputDir
	assert.FileExists(t, filepath.Join(outputDir, "raw", "cf2025a", "files", "cf2025.csv"))
	assert.FileExists(t, filepath.Join(outputDir, "raw", "cf2025a", "manifest.json"))
	assert.FileExists(t, filepath.Join(outputDir, "curated", "cms_conversion_factor", "cf2025a", "cms_conversion_factor.parquet"))
	assert.FileExists(t, filepath.Join(outputDir, "stage", "cf2025a", "cms_conversion_factor_schema_contract.json"))

	readme, err := os.ReadFile(filepath.Join(outputDir, "curated", "cms_conversion_factor", "cf2025a", "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "# cms_conversion_factor")
	assert.Contains(t, string(readme), "Release: cf2025a")
	assert.Contains(t, string(readme), "Schema: cms_conversion_factor_v1.0")
	assert.Contains(t, string(readme), "Published rows: 2")

	buf, err := os.ReadFile(filepath.Join(outputDir, "manifests", "batch-0001.json"))
	require.NoError(t, err)
	var manifest RunManifest
	require.NoError(t, json.Unmarshal(buf, &manifest))
	assert.Equal(t, RunStatusSuccessValue, manifest.Status)
	require.Contains(t, manifest.Datasets, "cms_conversion_factor")
	assert.Equal(t, int64(2), manifest.Datasets["cms_conversion_factor"].PublishedRows)
	assert.Zero(t, manifest.Datasets["cms_conversion_factor"].QuarantinedRows)
}

func TestIngestPartialOnRejects(t *testing.T) {
	server := cfServer(t,
		"cf_type,cf_value,effective_from\n"+
			"physician,32.3465,2025-01-01\n"+
			"anesthesia,garbled,2025-01-01\n")
	o, runs := testOrchestrator(t, server.URL)

	report, err := o.Ingest(t.Context(), "cf2025a")
	require.NoError(t, err)

	assert.Equal(t, RunStatusPartialValue, report.Status)
	assert.Equal(t, int64(1), report.RecordCount)

	require.Len(t, runs.progress, 1)
	assert.Equal(t, int64(1), runs.progress[0].RejectRows)
	require.Len(t, runs.completed, 1)
	assert.Equal(t, RunStatusPartialValue, runs.completed[0].Status)

	// the rejected row lands in quarantine
	quarantineDir := filepath.Join(o.Config.OutputDir, "quarantine", "cf2025a")
	entries, err := os.ReadDir(quarantineDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestIngestParseFailureCompletesRunAsFailed(t *testing.T) {
	// duplicate natural key (cf_type, effective_from) aborts the parse
	server := cfServer(t,
		"cf_type,cf_value,effective_from\n"+
			"physician,32.3465,2025-01-01\n"+
			"physician,33.0000,2025-01-01\n")
	o, runs := testOrchestrator(t, server.URL)

	report, err := o.Ingest(t.Context(), "cf2025a")
	require.Error(t, err)

	assert.Equal(t, RunStatusFailedValue, report.Status)
	assert.Equal(t, "batch-0001", report.BatchID)
	assert.NotEmpty(t, report.ErrorMessage)

	require.Len(t, runs.completed, 1)
	assert.Equal(t, RunStatusFailedValue, runs.completed[0].Status)
	assert.Zero(t, runs.completed[0].OutputCount)
	assert.NotEmpty(t, runs.completed[0].ErrorType)
}

func TestIngestLandingFailureCompletesRunAsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	o, runs := testOrchestrator(t, server.URL)

	report, err := o.Ingest(t.Context(), "cf2025a")
	require.Error(t, err)

	// the run record exists from before landing, so the failure is recorded
	assert.Equal(t, RunStatusFailedValue, report.Status)
	assert.Equal(t, "batch-0001", report.BatchID)
	assert.Equal(t, "cf2025a", runs.seed.ReleaseID)
	require.Len(t, runs.files, 1)
	assert.Equal(t, "cf2025.csv", runs.files[0].Source.Filename)

	require.Len(t, runs.completed, 1)
	assert.Equal(t, RunStatusFailedValue, runs.completed[0].Status)
	assert.Zero(t, runs.completed[0].OutputCount)
	assert.NotEmpty(t, runs.completed[0].ErrorMessage)
	assert.NotEmpty(t, runs.completed[0].ErrorType)
}

func TestIngestUnknownRelease(t *testing.T) {
	o, _ := testOrchestrator(t, "http://127.0.0.1:0")
	_, err := o.Ingest(t.Context(), "no-such-release")
	require.ErrorContains(t, err, "no such release configured")
}
