// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"archive/zip"
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

func buildParserTestZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// zipArchiveLine renders one record of the fixed-width ZIP archive member.
// Offsets follow the cms_zip9_overrides layout; ZIP5 base records carry
// plus_four_flag '0'.
func zipArchiveLine(state, zip5, carrier, locality, rural, flag, plusFour, plusFourHigh string) string {
	return fmt.Sprintf("%-2s%-5s%-5s%-2s%-1s     %-1s%-4s%-4s",
		state, zip5, carrier, locality, rural, flag, plusFour, plusFourHigh)
}

func TestZIP5LocalityParse(t *testing.T) {
	p := buildParser(t, NewZIP5LocalityParser)
	body := zipArchiveLine("CA", "94107", "01112", "05", "", "0", "", "") + "\n" +
		zipArchiveLine("NV", "89448", "01112", "00", "R", "0", "", "") + "\n" +
		// ZIP9 override record, belongs to the sibling parser
		zipArchiveLine("CA", "94107", "01112", "02", "", "1", "1234", "5678") + "\n"
	in := testInput(body, "zip5_oct2025.txt", "zip2025q4", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)

	require.Equal(t, 2, result.Data.Len())
	assert.Zero(t, result.Rejects.Len())

	first := result.Data.Rows[0]
	assert.Equal(t, "89448", first.Values["zip5"])
	assert.Equal(t, "NV", first.Values["state"])
	assert.Equal(t, "00", first.Values["locality"])
	assert.Equal(t, "R", first.Values["rural_flag"])

	second := result.Data.Rows[1]
	assert.Equal(t, "94107", second.Values["zip5"])
	assert.Equal(t, "01112", second.Values["carrier_mac"])
	assert.Equal(t, "2025-01-01", second.Values["effective_from"])
}

func TestZIP5LocalityZeroPlusFourIsBase(t *testing.T) {
	p := buildParser(t, NewZIP5LocalityParser)
	// flag '1' but an all-zero plus_four is still a base record
	body := zipArchiveLine("CA", "94107", "01112", "05", "", "1", "0000", "") + "\n"
	in := testInput(body, "zip5_oct2025.txt", "zip2025q4", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Data.Len())
}

func TestZIP9OverrideParse(t *testing.T) {
	p := buildParser(t, NewZIP9OverrideParser)
	body := zipArchiveLine("CA", "94107", "01112", "05", "", "0", "", "") + "\n" +
		zipArchiveLine("CA", "94107", "01112", "02", "", "1", "1234", "5678") + "\n" +
		zipArchiveLine("NY", "10001", "13202", "01", "", "1", "9000", "") + "\n"
	in := testInput(body, "zip9_oct2025.txt", "zip2025q4", 2025)

	result, err := p.Parse(in)
	require.NoError(t, err)

	require.Equal(t, 2, result.Data.Len())

	first := result.Data.Rows[0]
	assert.Equal(t, "100019000", first.Values["zip9_low"])
	// a missing high bound collapses the range to a single ZIP9
	assert.Equal(t, "100019000", first.Values["zip9_high"])

	second := result.Data.Rows[1]
	assert.Equal(t, "941071234", second.Values["zip9_low"])
	assert.Equal(t, "941075678", second.Values["zip9_high"])
	assert.Equal(t, "02", second.Values["locality"])
	assert.Equal(t, "CA", second.Values["state"])
}

func TestZIP9OverrideOverlapBlocks(t *testing.T) {
	p := buildParser(t, NewZIP9OverrideParser)
	body := zipArchiveLine("CA", "94107", "01112", "02", "", "1", "1234", "5678") + "\n" +
		zipArchiveLine("CA", "94107", "01112", "05", "", "1", "4000", "9999") + "\n"
	in := testInput(body, "zip9_oct2025.txt", "zip2025q4", 2025)

	_, err := p.Parse(in)
	var overlapErr core.RangeOverlapError
	require.ErrorAs(t, err, &overlapErr)
	assert.Equal(t, "cms_zip9_overrides_v1.0", overlapErr.SchemaID)
	require.Len(t, overlapErr.Ranges, 1)
}

func TestZIPArchiveMemberExtraction(t *testing.T) {
	p := buildParser(t, NewZIP5LocalityParser)
	member := zipArchiveLine("CA", "94107", "01112", "05", "", "0", "", "") + "\n"
	archive := buildParserTestZip(t, map[string]string{
		"ZIP5_OCT2025/readme.pdf": "ignore",
		"ZIP5_OCT2025/ZIP5.TXT":   member,
	})
	in := testInput("", "zip5_oct2025.zip", "zip2025q4", 2025)
	in.Bytes = archive

	result, err := p.Parse(in)
	require.NoError(t, err)
	require.Equal(t, 1, result.Data.Len())
	assert.Equal(t, "94107", result.Data.Rows[0].Values["zip5"])
}
