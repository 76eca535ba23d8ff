// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// CanonicalizeNumeric parses a numeric string, rounds it in exact decimal
// arithmetic to the given precision, and renders it as a fixed-point string
// with exactly that many fractional digits. This is how CMS values like
// 32.3465 survive Excel round-trips: binary floats never enter the picture.
func CanonicalizeNumeric(raw string, precision int, mode core.RoundingMode) (string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	if cleaned == "" {
		return "", fmt.Errorf("empty numeric value")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", fmt.Errorf("unparseable numeric value %q: %w", raw, err)
	}
	switch mode {
	case core.RoundHalfEven:
		d = d.RoundBank(int32(precision))
	default: // HALF_UP is the canonical rule
		d = d.Round(int32(precision))
	}
	return d.StringFixed(int32(precision)), nil
}

// CanonicalizeInteger parses an integer string and renders it without
// leading zeros or sign noise.
func CanonicalizeInteger(raw string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return "", fmt.Errorf("empty integer value")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", fmt.Errorf("unparseable integer value %q: %w", raw, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return "", fmt.Errorf("value %q has a fractional part", raw)
	}
	return d.Truncate(0).String(), nil
}

// NumericInRange checks a canonicalized numeric rendering against a bound
// pair. Nil bounds are unbounded.
func NumericInRange(canonical string, min, max *float64) (bool, error) {
	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return false, err
	}
	if min != nil && d.LessThan(decimal.NewFromFloat(*min)) {
		return false, nil
	}
	if max != nil && d.GreaterThan(decimal.NewFromFloat(*max)) {
		return false, nil
	}
	return true, nil
}
