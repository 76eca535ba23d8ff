// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package locfips

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

var testCounties = []core.FIPSCounty{
	{StateFIPS: "06", CountyFIPS: "001", Name: "ALAMEDA", LSAD: "County"},
	{StateFIPS: "06", CountyFIPS: "037", Name: "LOS ANGELES", LSAD: "County"},
	{StateFIPS: "06", CountyFIPS: "059", Name: "ORANGE", LSAD: "County"},
	{StateFIPS: "06", CountyFIPS: "075", Name: "SAN FRANCISCO", LSAD: "County"},
	{StateFIPS: "06", CountyFIPS: "085", Name: "SANTA CLARA", LSAD: "County"},
	{StateFIPS: "29", CountyFIPS: "189", Name: "SAINT LOUIS", LSAD: "County", Aliases: []string{"ST. LOUIS"}},
	{StateFIPS: "29", CountyFIPS: "510", Name: "SAINT LOUIS", LSAD: "city", Aliases: []string{"ST. LOUIS CITY"}},
	{StateFIPS: "32", CountyFIPS: "005", Name: "DOUGLAS", LSAD: "County"},
	{StateFIPS: "32", CountyFIPS: "031", Name: "WASHOE", LSAD: "County"},
}

func testNormalizer(t *testing.T, useFuzzy bool) *Normalizer {
	t.Helper()
	schemas, err := core.NewDefaultSchemaRegistry()
	require.NoError(t, err)
	schema, err := schemas.Get("cms_locality_county")
	require.NoError(t, err)

	n := New(schema, core.NewFIPSReference("2025", testCounties), useFuzzy, 0)
	n.TimeNow = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	return n
}

func stage1Row(pos int, mac, code, stateName, feeArea, countyNames string) parsekit.Row {
	row := parsekit.NewRow(pos)
	row.Values["mac"] = mac
	row.Values["locality_code"] = code
	row.Values["state_name"] = stateName
	row.Values["fee_area"] = feeArea
	row.Values["county_names"] = countyNames
	return row
}

func stage1Frame(rows ...parsekit.Row) parsekit.Frame {
	return parsekit.Frame{
		Columns: []string{"mac", "locality_code", "state_name", "fee_area", "county_names"},
		Rows:    rows,
	}
}

func testMeta() parsekit.ReleaseMeta {
	return parsekit.ReleaseMeta{
		ReleaseID:      "rvu2025a",
		VintageDate:    "2025-01-01",
		ProductYear:    2025,
		QuarterVintage: "2025Q1",
		SourceFilename: "25LOCCO.txt",
		SourceSHA256:   "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
}

func TestNormalizeAllCountiesExcept(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "18", "CALIFORNIA", "REST OF CALIFORNIA",
			"ALL COUNTIES EXCEPT LOS ANGELES, ORANGE"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 3, result.Data.Len())
	assert.Zero(t, result.Rejects.Len())

	var gotFIPS []string
	for _, row := range result.Data.Rows {
		gotFIPS = append(gotFIPS, row.Values["state_fips"]+row.Values["county_fips"])
		assert.Equal(t, "all_counties_except", row.Values["expansion_method"])
		assert.Equal(t, "expansion", row.Values["match_method"])
		assert.Equal(t, "18", row.Values["locality_code"])
	}
	assert.Equal(t, []string{"06001", "06075", "06085"}, gotFIPS)
	assert.NotContains(t, gotFIPS, "06037")
	assert.NotContains(t, gotFIPS, "06059")
}

func TestNormalizeExplicitList(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "05", "CALIFORNIA", "SAN FRANCISCO",
			"SAN FRANCISCO/SANTA CLARA"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 2, result.Data.Len())
	assert.Equal(t, "075", result.Data.Rows[0].Values["county_fips"])
	assert.Equal(t, "exact", result.Data.Rows[0].Values["match_method"])
	assert.Equal(t, "explicit_list", result.Data.Rows[0].Values["expansion_method"])
}

func TestNormalizeAliasMatch(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "05302", "01", "MISSOURI", "ST. LOUIS AREA", "ST. LOUIS COUNTY"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 1, result.Data.Len())
	// the LSAD hint does not say CITY, so the county FIPS wins over the
	// independent city
	assert.Equal(t, "189", result.Data.Rows[0].Values["county_fips"])
}

func TestNormalizeCityLSADHint(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "05302", "02", "MISSOURI", "ST. LOUIS CITY", "SAINT LOUIS"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 1, result.Data.Len())
	assert.Equal(t, "510", result.Data.Rows[0].Values["county_fips"])
	assert.Equal(t, "city", result.Data.Rows[0].Values["lsad"])
}

func TestNormalizeFuzzyMatch(t *testing.T) {
	n := testNormalizer(t, true)
	frame := stage1Frame(
		stage1Row(0, "01112", "09", "CALIFORNIA", "", "SAN FRANCISO"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 1, result.Data.Len())
	assert.Equal(t, "075", result.Data.Rows[0].Values["county_fips"])
	assert.Equal(t, "fuzzy", result.Data.Rows[0].Values["match_method"])
}

func TestNormalizeFuzzyDisabledQuarantines(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "09", "CALIFORNIA", "", "SAN FRANCISO"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	assert.Zero(t, result.Data.Len())
	require.Equal(t, 1, result.Rejects.Len())
	assert.Contains(t, result.Rejects.Rows[0].ErrorMsg, ReasonNoMatch)
}

func TestNormalizeRestOfState(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "05", "CALIFORNIA", "SAN FRANCISCO", "SAN FRANCISCO"),
		stage1Row(1, "01112", "18", "CALIFORNIA", "LOS ANGELES", "LOS ANGELES"),
		stage1Row(2, "01112", "99", "CALIFORNIA", "REST OF STATE", "REST OF CALIFORNIA"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 5, result.Data.Len())

	byLocality := make(map[string][]string)
	for _, row := range result.Data.Rows {
		byLocality[row.Values["locality_code"]] = append(
			byLocality[row.Values["locality_code"]], row.Values["county_fips"])
	}
	assert.Equal(t, []string{"075"}, byLocality["05"])
	assert.Equal(t, []string{"037"}, byLocality["18"])
	// REST OF takes whatever the explicit rows did not claim
	assert.ElementsMatch(t, []string{"001", "059", "085"}, byLocality["99"])

	for _, row := range result.Data.Rows {
		if row.Values["locality_code"] == "99" {
			assert.Equal(t, "rest_of_state", row.Values["expansion_method"])
		}
	}
}

func TestNormalizeUnknownState(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "05", "FREEDONIA", "", "ALL COUNTIES"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	assert.Zero(t, result.Data.Len())
	require.Equal(t, 1, result.Rejects.Len())
	assert.Equal(t, "LOCFIPS_STATE", result.Rejects.Rows[0].RuleID)
	assert.Contains(t, result.Rejects.Rows[0].ErrorMsg, ReasonUnknownState)
}

func TestNormalizeEmptyCountyList(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "05", "CALIFORNIA", "", ""),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)

	require.Equal(t, 1, result.Rejects.Len())
	assert.Contains(t, result.Rejects.Rows[0].ErrorMsg, ReasonEmptyCountyList)
}

func TestNormalizeMetadataInjected(t *testing.T) {
	n := testNormalizer(t, false)
	frame := stage1Frame(
		stage1Row(0, "01112", "05", "CALIFORNIA", "", "SAN FRANCISCO"),
	)

	result, err := n.Normalize(frame, testMeta())
	require.NoError(t, err)
	require.Equal(t, 1, result.Data.Len())

	row := result.Data.Rows[0]
	assert.Equal(t, "rvu2025a", row.Values["release_id"])
	assert.Equal(t, "cms_locality_county_v1.0", row.Values["schema_id"])
	assert.Len(t, row.Values["row_content_hash"], 64)
	require.NoError(t, result.AssertJoinInvariant())
}
