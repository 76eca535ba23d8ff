// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"fmt"
	"strings"
)

// NormalizeHeader canonicalizes a column header: strip stray BOM characters,
// trim ASCII whitespace, collapse internal whitespace to single spaces,
// lowercase. A header that is nothing but a BOM is rejected.
func NormalizeHeader(name string) (string, error) {
	name = strings.ReplaceAll(name, "\ufeff", "")
	name = strings.TrimSpace(name)
	name = strings.Join(strings.Fields(name), " ")
	name = strings.ToLower(name)
	if name == "" {
		return "", fmt.Errorf("column header is empty after normalization")
	}
	return name, nil
}

// NormalizeHeaders applies NormalizeHeader to all headers and resolves the
// given alias map (keys are normalized spellings, values are canonical
// column names).
func NormalizeHeaders(headers []string, aliases map[string]string) ([]string, error) {
	out := make([]string, len(headers))
	for idx, h := range headers {
		normalized, err := NormalizeHeader(h)
		if err != nil {
			return nil, fmt.Errorf("while normalizing column %d: %w", idx, err)
		}
		if canonical, exists := aliases[normalized]; exists {
			normalized = canonical
		}
		out[idx] = normalized
	}
	return out, nil
}

// NormalizeString canonicalizes a string value: non-breaking spaces and tabs
// become plain spaces, then leading/trailing whitespace is stripped. The
// second return value is false if the result is empty (treated as NULL).
func NormalizeString(value string) (string, bool) {
	value = strings.ReplaceAll(value, "\u00a0", " ")
	value = strings.ReplaceAll(value, "\t", " ")
	value = strings.TrimSpace(value)
	return value, value != ""
}

// NormalizeStringColumns applies NormalizeString to every string-typed
// column of every row, converting empty strings to NULL.
func NormalizeStringColumns(frame *Frame, stringColumns []string) {
	isString := make(map[string]bool, len(stringColumns))
	for _, col := range stringColumns {
		isString[col] = true
	}
	for idx := range frame.Rows {
		for col, value := range frame.Rows[idx].Values {
			if !isString[col] {
				continue
			}
			normalized, ok := NormalizeString(value)
			if ok {
				frame.Rows[idx].Values[col] = normalized
			} else {
				delete(frame.Rows[idx].Values, col)
			}
		}
	}
}
