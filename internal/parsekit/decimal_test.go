// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

func TestCanonicalizeNumericHalfUp(t *testing.T) {
	cases := []struct {
		raw       string
		precision int
		want      string
	}{
		{"32.3465", 4, "32.3465"},
		{"20.3178", 4, "20.3178"},
		{"1.005", 2, "1.01"}, // exact decimal arithmetic, no float drift
		{"1.004", 2, "1.00"},
		{"2.5", 0, "3"},
		{"0.12345", 3, "0.123"},
		{"0.1235", 3, "0.124"},
		{" 1,234.5 ", 1, "1234.5"},
		{"$20.0000", 4, "20.0000"},
		{"-1.005", 2, "-1.01"},
		{"7", 2, "7.00"},
	}
	for _, c := range cases {
		got, err := CanonicalizeNumeric(c.raw, c.precision, core.RoundHalfUp)
		require.NoError(t, err, "input %q", c.raw)
		assert.Equal(t, c.want, got, "input %q", c.raw)
	}
}

func TestCanonicalizeNumericHalfEven(t *testing.T) {
	got, err := CanonicalizeNumeric("2.5", 0, core.RoundHalfEven)
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	got, err = CanonicalizeNumeric("3.5", 0, core.RoundHalfEven)
	require.NoError(t, err)
	assert.Equal(t, "4", got)
}

func TestCanonicalizeNumericErrors(t *testing.T) {
	_, err := CanonicalizeNumeric("", 2, core.RoundHalfUp)
	assert.Error(t, err)
	_, err = CanonicalizeNumeric("abc", 2, core.RoundHalfUp)
	assert.Error(t, err)
}

func TestCanonicalizeInteger(t *testing.T) {
	got, err := CanonicalizeInteger(" 007 ")
	require.NoError(t, err)
	assert.Equal(t, "7", got)

	got, err = CanonicalizeInteger("1,234")
	require.NoError(t, err)
	assert.Equal(t, "1234", got)

	_, err = CanonicalizeInteger("1.5")
	assert.Error(t, err)
	_, err = CanonicalizeInteger("")
	assert.Error(t, err)
}

func TestNumericInRange(t *testing.T) {
	min, max := 0.0, 200.0
	ok, err := NumericInRange("32.3465", &min, &max)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NumericInRange("-0.0001", &min, &max)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NumericInRange("200.0001", nil, &max)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NumericInRange("1000000", nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
