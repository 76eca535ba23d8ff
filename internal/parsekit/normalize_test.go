// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"﻿HCPCS":       "hcpcs",
		"  Work  RVU  ":     "work rvu",
		"Locality\tNumber":  "locality number",
		"CONVERSION FACTOR": "conversion factor",
	}
	for input, want := range cases {
		got, err := NormalizeHeader(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, err := NormalizeHeader("﻿")
	assert.Error(t, err)
	_, err = NormalizeHeader("   ")
	assert.Error(t, err)
}

func TestNormalizeHeadersWithAliases(t *testing.T) {
	aliases := map[string]string{
		"work rvu":          "work_rvu",
		"conversion factor": "cf_value",
	}
	got, err := NormalizeHeaders([]string{"Work  RVU", "Conversion Factor", "State"}, aliases)
	require.NoError(t, err)
	assert.Equal(t, []string{"work_rvu", "cf_value", "state"}, got)
}

func TestNormalizeString(t *testing.T) {
	got, ok := NormalizeString(" SAN\tFRANCISCO ")
	assert.True(t, ok)
	assert.Equal(t, "SAN FRANCISCO", got)

	_, ok = NormalizeString(" \t ")
	assert.False(t, ok)
}

func TestNormalizeStringColumns(t *testing.T) {
	frame := Frame{Columns: []string{"county", "work_rvu"}}
	row := NewRow(0)
	row.Values["county"] = " LOS ANGELES "
	row.Values["work_rvu"] = " 1.30 " // not a string column, left alone
	frame.Rows = append(frame.Rows, row)

	empty := NewRow(1)
	empty.Values["county"] = "   "
	frame.Rows = append(frame.Rows, empty)

	NormalizeStringColumns(&frame, []string{"county"})

	assert.Equal(t, "LOS ANGELES", frame.Rows[0].Values["county"])
	assert.Equal(t, " 1.30 ", frame.Rows[0].Values["work_rvu"])
	_, exists := frame.Rows[1].Values["county"]
	assert.False(t, exists, "blank string must become NULL")
}
