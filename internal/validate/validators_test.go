// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

func zip5Schema(t *testing.T) core.SchemaContract {
	t.Helper()
	schemas, err := core.NewDefaultSchemaRegistry()
	require.NoError(t, err)
	schema, err := schemas.Get("cms_zip5_locality")
	require.NoError(t, err)
	return schema
}

func zip5Row(pos int, zip5, state, locality, from string) parsekit.Row {
	row := parsekit.NewRow(pos)
	row.Values["zip5"] = zip5
	row.Values["state"] = state
	row.Values["locality"] = locality
	row.Values["effective_from"] = from
	return row
}

func zip5Frame(rows ...parsekit.Row) parsekit.Frame {
	return parsekit.Frame{
		Columns: []string{"zip5", "state", "locality", "effective_from"},
		Rows:    rows,
	}
}

func testContext(t *testing.T, dataset string) Context {
	t.Helper()
	schemas, err := core.NewDefaultSchemaRegistry()
	require.NoError(t, err)
	schema, err := schemas.Get(dataset)
	require.NoError(t, err)
	return Context{
		Schema: schema,
		Now:    time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestStructural(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	good := zip5Row(0, "94107", "CA", "05", "2025-01-01")
	missingState := zip5Row(1, "89448", "", "00", "2025-01-01")
	delete(missingState.Values, "state")

	report := Structural(zip5Frame(good, missingState), ctx)
	assert.Equal(t, 1, report.PassedCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.False(t, report.Passed())
	assert.Contains(t, report.SampleFailures[0], "state is null")
}

func TestStructuralTypeCoercion(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")
	bad := zip5Row(0, "94107", "CA", "05", "not-a-date")

	report := Structural(zip5Frame(bad), ctx)
	assert.Equal(t, 1, report.FailedCount)
}

func TestDomain(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	frame := zip5Frame(
		zip5Row(0, "94107", "CA", "05", "2025-01-01"),
		zip5Row(1, "9410", "CA", "05", "2025-01-01"),  // 4-digit ZIP
		zip5Row(2, "89448", "XX", "00", "2025-01-01"), // bad postal code
	)

	report := Domain(frame, ctx)
	assert.Equal(t, 1, report.PassedCount)
	assert.Equal(t, 2, report.FailedCount)
	assert.False(t, report.Passed())
}

func TestBusinessDuplicateKeys(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	frame := zip5Frame(
		zip5Row(0, "94107", "CA", "05", "2025-01-01"),
		zip5Row(1, "94107", "CA", "07", "2025-01-01"), // same (zip5, effective_from)
	)

	report := Business(frame, ctx)
	assert.Equal(t, 1, report.FailedCount)
	assert.False(t, report.Passed())
}

func TestBusinessDateOrdering(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	inverted := zip5Row(0, "94107", "CA", "05", "2025-06-01")
	inverted.Values["effective_to"] = "2025-01-01"

	report := Business(zip5Frame(inverted), ctx)
	assert.Equal(t, 1, report.FailedCount)
}

func TestBusinessFutureDateWarns(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	report := Business(zip5Frame(zip5Row(0, "94107", "CA", "05", "2026-01-01")), ctx)
	assert.Zero(t, report.FailedCount)
	assert.Equal(t, 1, report.WarningCount)
	assert.True(t, report.Passed())
}

func TestBusinessRVUConsistency(t *testing.T) {
	ctx := testContext(t, "cms_pprrvu")

	payable := parsekit.NewRow(0)
	payable.Values["hcpcs"] = "99213"
	payable.Values["status_code"] = "A"
	payable.Values["effective_from"] = "2025-01-01"
	// no work_rvu on a payable code

	naConflict := parsekit.NewRow(1)
	naConflict.Values["hcpcs"] = "99214"
	naConflict.Values["status_code"] = "A"
	naConflict.Values["work_rvu"] = "1.92"
	naConflict.Values["na_indicator"] = "1"
	naConflict.Values["pe_rvu_nonfac"] = "1.50"
	naConflict.Values["effective_from"] = "2025-01-01"

	frame := parsekit.Frame{
		Columns: []string{"hcpcs", "status_code", "work_rvu", "na_indicator", "pe_rvu_nonfac", "effective_from"},
		Rows:    []parsekit.Row{payable, naConflict},
	}

	report := Business(frame, ctx)
	assert.Equal(t, 2, report.FailedCount)
	assert.Contains(t, report.SampleFailures[0], "without work_rvu")
	assert.Contains(t, report.SampleFailures[1], "na_indicator=1")
}

func TestCompleteness(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	rows := make([]parsekit.Row, 0, 10)
	for idx := 0; idx < 10; idx++ {
		row := zip5Row(idx, "94107", "CA", "05", "2025-01-01")
		row.Values["zip5"] = row.Values["zip5"][:4] + string(rune('0'+idx))
		rows = append(rows, row)
	}
	// one row loses a critical column: 90% non-null < 99%
	delete(rows[3].Values, "locality")

	report := Completeness(zip5Frame(rows...), ctx)
	assert.Equal(t, 1, report.WarningCount)
	assert.InDelta(t, (1.0+1.0+0.9)/3.0, report.QualityScore, 0.0001)
	assert.False(t, report.Passed())
}

func TestCompletenessEmptyFrame(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")
	report := Completeness(zip5Frame(), ctx)
	assert.Equal(t, 1.0, report.QualityScore)
	assert.True(t, report.Passed())
}

func TestCrossDatasetZIP9(t *testing.T) {
	zip5 := zip5Frame(
		zip5Row(0, "94107", "CA", "05", "2025-01-01"),
		zip5Row(1, "89448", "NV", "00", "2025-01-01"),
	)

	mkOverride := func(pos int, low, state string) parsekit.Row {
		row := parsekit.NewRow(pos)
		row.Values["zip9_low"] = low
		row.Values["zip9_high"] = low
		row.Values["state"] = state
		return row
	}
	zip9 := parsekit.Frame{
		Columns: []string{"zip9_low", "zip9_high", "state"},
		Rows: []parsekit.Row{
			mkOverride(0, "941071234", "CA"), // agrees
			mkOverride(1, "894481111", "CA"), // state conflict with NV
			mkOverride(2, "100019000", "NY"), // no ZIP5 base record
		},
	}

	report := CrossDatasetZIP9(zip9, zip5)
	assert.Equal(t, 2, report.PassedCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 1, report.WarningCount)
}

func TestRunAggregatesVerdict(t *testing.T) {
	ctx := testContext(t, "cms_zip5_locality")

	verdict := Run(zip5Frame(zip5Row(0, "94107", "CA", "05", "2025-01-01")), ctx)
	assert.Equal(t, "cms_zip5_locality", verdict.Dataset)
	assert.False(t, verdict.Failed)
	assert.Len(t, verdict.Reports, len(DefaultValidators))
	assert.Equal(t, 1.0, verdict.OverallScore)
}

func TestAggregateBlockFailureForcesFailed(t *testing.T) {
	verdict := Aggregate("cms_zip5_locality", []ValidationReport{
		{RuleName: "structural", Severity: core.SeverityBlock, PassedCount: 99, FailedCount: 1, QualityScore: 0.99, Threshold: 1.0},
		{RuleName: "domain", Severity: core.SeverityBlock, PassedCount: 100, QualityScore: 1.0, Threshold: 1.0},
	})
	assert.True(t, verdict.Failed, "any BLOCK failure fails the batch even above the score threshold")
	assert.InDelta(t, 0.995, verdict.OverallScore, 0.0001)
}

func TestAggregateLowScoreFails(t *testing.T) {
	verdict := Aggregate("cms_gpci", []ValidationReport{
		{RuleName: "completeness", Severity: core.SeverityWarn, QualityScore: 0.90, Threshold: 0.99},
	})
	assert.True(t, verdict.Failed)
}
