// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// EnforceCategoricalDomains moves rows whose value for a domain-restricted
// column lies outside the schema's domain into the reject frame with rule id
// CATEGORY_<COL>_DOMAIN. At BLOCK severity the first offending column
// aborts parsing with a CategoryValidationError instead.
//
// Domains are case-sensitive; string normalization has already happened.
func EnforceCategoricalDomains(frame *Frame, rejects *RejectFrame, schema core.SchemaContract, releaseID string) error {
	for _, col := range schema.Columns {
		if len(col.Domain) == 0 {
			continue
		}
		severity := col.DomainSeverity
		if severity == "" {
			severity = core.SeverityBlock
		}
		allowed := make(map[string]bool, len(col.Domain))
		for _, v := range col.Domain {
			allowed[v] = true
		}
		ruleID := fmt.Sprintf("CATEGORY_%s_DOMAIN", strings.ToUpper(col.Name))

		var (
			kept     []Row
			badSeen  = make(map[string]bool)
			badOrder []string
		)
		for _, row := range frame.Rows {
			value, present := row.Get(col.Name)
			if !present || allowed[value] {
				kept = append(kept, row)
				continue
			}
			if !badSeen[value] {
				badSeen[value] = true
				if len(badOrder) < core.MaxReportedDuplicateKeys {
					badOrder = append(badOrder, value)
				}
			}
			rejects.Add(row, ruleID, severity,
				fmt.Sprintf("value %q not in domain for column %s", value, col.Name),
				schema.ID(), releaseID)
		}
		frame.Rows = kept

		if severity == core.SeverityBlock && len(badOrder) > 0 {
			return core.CategoryValidationError{SchemaID: schema.ID(), Column: col.Name, Values: badOrder}
		}
	}
	return nil
}

// patternCache avoids recompiling schema patterns per row.
var patternCache = make(map[string]*regexp.Regexp)

func compiledPattern(pattern string) *regexp.Regexp {
	if rx, exists := patternCache[pattern]; exists {
		return rx
	}
	rx := regexp.MustCompile(pattern)
	patternCache[pattern] = rx
	return rx
}

// EnforcePatterns rejects rows whose value does not match the column's
// declared pattern (BLOCK).
func EnforcePatterns(frame *Frame, rejects *RejectFrame, schema core.SchemaContract, releaseID string) {
	for _, col := range schema.Columns {
		if col.Pattern == "" {
			continue
		}
		rx := compiledPattern(col.Pattern)
		ruleID := fmt.Sprintf("PATTERN_%s", strings.ToUpper(col.Name))

		var kept []Row
		for _, row := range frame.Rows {
			value, present := row.Get(col.Name)
			if !present {
				if col.Nullable {
					kept = append(kept, row)
				} else {
					rejects.Add(row, ruleID, core.SeverityBlock,
						fmt.Sprintf("column %s is null but not nullable", col.Name),
						schema.ID(), releaseID)
				}
				continue
			}
			if rx.MatchString(value) {
				kept = append(kept, row)
			} else {
				rejects.Add(row, ruleID, core.SeverityBlock,
					fmt.Sprintf("value %q does not match pattern %s for column %s", value, col.Pattern, col.Name),
					schema.ID(), releaseID)
			}
		}
		frame.Rows = kept
	}
}

// CastAndCanonicalize casts every typed column to its canonical rendering:
// floats are rounded in exact decimal arithmetic at schema precision,
// integers are normalized, dates must already be ISO YYYY-MM-DD. Rows whose
// values cannot be cast are rejected (BLOCK).
func CastAndCanonicalize(frame *Frame, rejects *RejectFrame, schema core.SchemaContract, releaseID string) {
	var kept []Row
rowLoop:
	for _, row := range frame.Rows {
		for _, col := range schema.Columns {
			value, present := row.Get(col.Name)
			if !present {
				if !col.Nullable {
					rejects.Add(row, fmt.Sprintf("CAST_%s", strings.ToUpper(col.Name)), core.SeverityBlock,
						fmt.Sprintf("column %s is null but not nullable", col.Name), schema.ID(), releaseID)
					continue rowLoop
				}
				continue
			}
			switch col.Type {
			case core.TypeFloat:
				canonical, err := CanonicalizeNumeric(value, col.Precision, col.Rounding)
				if err != nil {
					rejects.Add(row, fmt.Sprintf("CAST_%s", strings.ToUpper(col.Name)), core.SeverityBlock,
						err.Error(), schema.ID(), releaseID)
					continue rowLoop
				}
				row.Values[col.Name] = canonical
			case core.TypeInteger:
				canonical, err := CanonicalizeInteger(value)
				if err != nil {
					rejects.Add(row, fmt.Sprintf("CAST_%s", strings.ToUpper(col.Name)), core.SeverityBlock,
						err.Error(), schema.ID(), releaseID)
					continue rowLoop
				}
				row.Values[col.Name] = canonical
			case core.TypeDate:
				if !isoDateRx.MatchString(value) {
					rejects.Add(row, fmt.Sprintf("CAST_%s", strings.ToUpper(col.Name)), core.SeverityBlock,
						fmt.Sprintf("value %q is not an ISO date", value), schema.ID(), releaseID)
					continue rowLoop
				}
			case core.TypeBoolean:
				switch value {
				case "true", "false":
					// already canonical
				case "1", "Y", "y", "T":
					row.Values[col.Name] = "true"
				case "0", "N", "n", "F":
					row.Values[col.Name] = "false"
				default:
					rejects.Add(row, fmt.Sprintf("CAST_%s", strings.ToUpper(col.Name)), core.SeverityBlock,
						fmt.Sprintf("value %q is not a boolean", value), schema.ID(), releaseID)
					continue rowLoop
				}
			}
		}
		kept = append(kept, row)
	}
	frame.Rows = kept
}

var isoDateRx = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// EnforceRanges applies the schema's numeric bounds: hard bounds reject at
// BLOCK, guardrails stay in the data frame but are counted as WARN findings.
// The returned counts feed the parser metrics (range_reject_count) and the
// warnings list.
func EnforceRanges(frame *Frame, rejects *RejectFrame, schema core.SchemaContract, releaseID string) (blockCount, warnCount int) {
	for _, col := range schema.Columns {
		if col.Type != core.TypeFloat {
			continue
		}
		hasHard := col.HardMin != nil || col.HardMax != nil
		hasGuard := col.GuardMin != nil || col.GuardMax != nil
		if !hasHard && !hasGuard {
			continue
		}

		var kept []Row
		for _, row := range frame.Rows {
			value, present := row.Get(col.Name)
			if !present {
				kept = append(kept, row)
				continue
			}
			if hasHard {
				ok, err := NumericInRange(value, col.HardMin, col.HardMax)
				if err == nil && !ok {
					blockCount++
					rejects.Add(row, fmt.Sprintf("RANGE_%s", strings.ToUpper(col.Name)), core.SeverityBlock,
						fmt.Sprintf("value %s out of hard bounds for column %s", value, col.Name),
						schema.ID(), releaseID)
					continue
				}
			}
			if hasGuard {
				ok, err := NumericInRange(value, col.GuardMin, col.GuardMax)
				if err == nil && !ok {
					warnCount++
				}
			}
			kept = append(kept, row)
		}
		frame.Rows = kept
	}
	return blockCount, warnCount
}
