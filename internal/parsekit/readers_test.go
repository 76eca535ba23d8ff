// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

var readersTestLayout = core.LayoutSpec{
	Version:         "v2025.1.0",
	SkipLeadingRows: 1,
	Columns: []core.LayoutColumn{
		{Name: "mac", Start: 0, End: 5, Type: core.TypeString},
		{Name: "locality_code", Start: 6, End: 8, Type: core.TypeString},
		{Name: "work_gpci", Start: 8, End: 16, Type: core.TypeFloat},
		{Name: "note", Start: 16, End: 30, Type: core.TypeString, Nullable: true},
	},
}

func TestReadFixedWidth(t *testing.T) {
	text := "MAC   LO WORK\n" + // header, skipped
		"01112 05    1.05\n" +
		"\n" + // blank, skipped
		"short\n" + // shorter than min length, skipped
		"01112 07    0.98  with note\n"

	result, err := ReadFixedWidth(text, readersTestLayout)
	require.NoError(t, err)
	require.Equal(t, 2, result.Frame.Len())
	assert.Equal(t, 4, result.SkippedRows) // header, blank, short row, trailing newline

	first := result.Frame.Rows[0]
	assert.Equal(t, "01112", first.Values["mac"])
	assert.Equal(t, "05", first.Values["locality_code"])
	assert.Equal(t, "    1.05", first.Values["work_gpci"])
	_, hasNote := first.Get("note")
	assert.False(t, hasNote, "blank slice must become NULL")

	second := result.Frame.Rows[1]
	assert.Equal(t, "  with note", second.Values["note"])
}

func TestReadFixedWidthNoRowFits(t *testing.T) {
	text := "HEADER\nshort\nalso short\n"
	_, err := ReadFixedWidth(text, readersTestLayout)
	var mismatch core.LayoutMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "v2025.1.0", mismatch.LayoutVersion)
	assert.Equal(t, 16, mismatch.WantMinLength)
}

func TestReadFixedWidthEmptyBody(t *testing.T) {
	// only the declared header rows: not a layout mismatch
	result, err := ReadFixedWidth("HEADER\n", readersTestLayout)
	require.NoError(t, err)
	assert.Zero(t, result.Frame.Len())
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ',', SniffDelimiter("a,b,c\n1,2,3\n"))
	assert.Equal(t, '\t', SniffDelimiter("a\tb\tc\n"))
	assert.Equal(t, '|', SniffDelimiter("a|b|c\n"))
	assert.Equal(t, ';', SniffDelimiter("a;b;c\n"))
	// comma wins ties
	assert.Equal(t, ',', SniffDelimiter("a,b;c,d;e\n"))
	assert.Equal(t, ',', SniffDelimiter(""))
}

func TestReadDelimited(t *testing.T) {
	text := "HCPCS,Work RVU,State\n99213,1.30,CA\n99214,1.92\n"
	frame, err := ReadDelimited(text, map[string]string{"work rvu": "work_rvu"})
	require.NoError(t, err)

	assert.Equal(t, []string{"hcpcs", "work_rvu", "state"}, frame.Columns)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, "CA", frame.Rows[0].Values["state"])

	// ragged row: missing trailing field stays NULL
	_, hasState := frame.Rows[1].Get("state")
	assert.False(t, hasState)
}

func TestReadDelimitedPipe(t *testing.T) {
	frame, err := ReadDelimited("zip5|state\n94107|CA\n", nil)
	require.NoError(t, err)
	require.Equal(t, 1, frame.Len())
	assert.Equal(t, "94107", frame.Rows[0].Values["zip5"])
}

func buildTestZip(t *testing.T, members map[string]string) []byte {
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

func TestExtractZipMember(t *testing.T) {
	archive := buildTestZip(t, map[string]string{
		"ZIP5_OCT2025/readme.pdf": "ignore",
		"ZIP5_OCT2025/ZIP5.TXT":   "payload",
	})

	data, name, err := ExtractZipMember(archive, "https://example.test/zip5.zip", ".txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "ZIP5.TXT", name)
}

func TestExtractZipMemberNoMatch(t *testing.T) {
	archive := buildTestZip(t, map[string]string{"readme.pdf": "x"})
	_, _, err := ExtractZipMember(archive, "https://example.test/zip5.zip", ".txt")
	var srcErr core.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Contains(t, srcErr.Reason, "no member matching")
}

func TestExtractZipMemberAmbiguous(t *testing.T) {
	archive := buildTestZip(t, map[string]string{"a.txt": "x", "b.txt": "y"})
	_, _, err := ExtractZipMember(archive, "https://example.test/zip5.zip", ".txt")
	var srcErr core.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Contains(t, srcErr.Reason, "2 members")
}

func TestExtractZipMemberCorrupt(t *testing.T) {
	_, _, err := ExtractZipMember([]byte("not a zip"), "https://example.test/zip5.zip", ".txt")
	var srcErr core.SourceError
	assert.ErrorAs(t, err, &srcErr)
}
