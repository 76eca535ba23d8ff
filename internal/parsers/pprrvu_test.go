// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// pprrvuLine renders one 112-character line matching the v2025.1.0 layout.
func pprrvuLine(hcpcs, modifier, desc, status string, work, peNonfac, peFac, mp float64, na, global, supervision string) string {
	return fmt.Sprintf("%-5s%-2s%-50s%-1s   %8.2f%8.2f%-2s%8.2f  %8.2f    %-3s      %-2s",
		hcpcs, modifier, desc, status, work, peNonfac, na, peFac, mp, global, supervision)
}

func pprrvuHeader() string {
	// the real file carries ten preamble lines before the first record
	lines := make([]string, 10)
	for idx := range lines {
		lines[idx] = fmt.Sprintf("PPRRVU25 HEADER LINE %d", idx+1)
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestPPRRVUFixedWidth(t *testing.T) {
	p := buildParser(t, NewPPRRVUParser)
	body := pprrvuHeader() +
		pprrvuLine("99214", "", "OFFICE VISIT EST LEVEL 4", "A", 1.92, 2.05, 0.80, 0.14, "", "XXX", "09") + "\n" +
		pprrvuLine("99213", "", "OFFICE VISIT EST LEVEL 3", "A", 1.30, 1.42, 0.55, 0.10, "", "XXX", "09") + "\n" +
		pprrvuLine("J1100", "", "DEXAMETHASONE SODIUM PHOS", "X", 0.00, 0.00, 0.00, 0.00, "", "XXX", "09") + "\n"
	in := testInput(body, "PPRRVU25.txt", "rvu2025a", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)

	require.Equal(t, 3, result.Data.Len())
	assert.Zero(t, result.Rejects.Len())
	assert.Equal(t, "v2025.1.0", result.Metrics.LayoutVersion)
	// ten preamble lines plus the trailing newline
	assert.Equal(t, 11, result.Metrics.SkiprowsDynamic)

	// sorted by (hcpcs, modifier, effective_from)
	first := result.Data.Rows[0]
	assert.Equal(t, "99213", first.Values["hcpcs"])
	assert.Equal(t, "1.30", first.Values["work_rvu"])
	assert.Equal(t, "1.42", first.Values["pe_rvu_nonfac"])
	assert.Equal(t, "0.55", first.Values["pe_rvu_fac"])
	assert.Equal(t, "0.10", first.Values["mp_rvu"])
	assert.Equal(t, "XXX", first.Values["global_days"])
	assert.Equal(t, "09", first.Values["supervision_code"])
	assert.Equal(t, "2025-01-01", first.Values["effective_from"])
	assert.Equal(t, "cms_pprrvu_v1.1", first.Values["schema_id"])

	// blank modifier is NULL, not empty string
	_, present := first.Values["modifier"]
	assert.False(t, present)

	assert.Equal(t, "J1100", result.Data.Rows[2].Values["hcpcs"])
	assert.Equal(t, 2, result.Metrics.RowCountByDim["status_code"]["A"])
	assert.Equal(t, 1, result.Metrics.RowCountByDim["status_code"]["X"])
	require.NoError(t, result.AssertJoinInvariant())
}

func TestPPRRVUCSVRepublication(t *testing.T) {
	p := buildParser(t, NewPPRRVUParser)
	in := testInput(
		"HCPCS Code,Mod,Status,Work RVU,Non-Fac PE RVU,Fac PE RVU,MP RVU,Glob Days\n"+
			"g0008,,A,0.17,0.43,0.17,0.01,XXX\n",
		"pprrvu_2025.csv", "rvu2025a", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)

	require.Equal(t, 1, result.Data.Len())
	row := result.Data.Rows[0]
	// lower-case republications are upcased before the pattern check
	assert.Equal(t, "G0008", row.Values["hcpcs"])
	assert.Equal(t, "A", row.Values["status_code"])
	assert.Equal(t, "0.17", row.Values["work_rvu"])
	assert.Equal(t, "2025-01-01", row.Values["effective_from"])
}

func TestPPRRVUStatusDomainBlocks(t *testing.T) {
	p := buildParser(t, NewPPRRVUParser)
	in := testInput(
		"HCPCS Code,Status,Work RVU\n99213,Z,1.30\n",
		"pprrvu_2025.csv", "rvu2025a", 2025)

	_, err := p.Parse(in)
	require.Error(t, err)

	var catErr core.CategoryValidationError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "status_code", catErr.Column)
	assert.Contains(t, catErr.Values, "Z")
}

func TestPPRRVUPatternRejects(t *testing.T) {
	p := buildParser(t, NewPPRRVUParser)
	in := testInput(
		"HCPCS Code,Status,Work RVU\n"+
			"99213,A,1.30\n"+
			"992,A,1.10\n",
		"pprrvu_2025.csv", "rvu2025a", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)

	require.Equal(t, 1, result.Data.Len())
	require.Equal(t, 1, result.Rejects.Len())
	assert.Equal(t, "PATTERN_HCPCS", result.Rejects.Rows[0].RuleID)
	require.NoError(t, result.AssertJoinInvariant())
}

func TestPPRRVUHardBoundRejects(t *testing.T) {
	p := buildParser(t, NewPPRRVUParser)
	in := testInput(
		"HCPCS Code,Status,Work RVU\n99213,A,250.00\n",
		"pprrvu_2025.csv", "rvu2025a", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)

	assert.Zero(t, result.Data.Len())
	require.Equal(t, 1, result.Rejects.Len())
	assert.Equal(t, "RANGE_WORK_RVU", result.Rejects.Rows[0].RuleID)
	assert.Equal(t, 1, result.Metrics.RangeRejectCount)
}
