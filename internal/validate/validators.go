// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// Context carries the static inputs shared by all validators of one run.
type Context struct {
	Schema core.SchemaContract
	Meta   parsekit.ReleaseMeta
	// Now is the reference time for the future-date check. Defaults to
	// time.Now when zero.
	Now time.Time
}

func (c Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// Validator is a pure check over a canonical frame.
type Validator func(frame parsekit.Frame, ctx Context) ValidationReport

// DefaultValidators is the standard per-dataset validator chain; the
// cross-dataset ZIP check runs separately because it needs two frames.
var DefaultValidators = []Validator{
	Structural,
	Domain,
	Business,
	Completeness,
}

// Run executes the validator chain and aggregates the verdict.
func Run(frame parsekit.Frame, ctx Context, validators ...Validator) BatchVerdict {
	if len(validators) == 0 {
		validators = DefaultValidators
	}
	reports := make([]ValidationReport, 0, len(validators))
	for _, v := range validators {
		reports = append(reports, v(frame, ctx))
	}
	return Aggregate(ctx.Schema.Dataset, reports)
}

func scoreOf(passed, failed int) float64 {
	total := passed + failed
	if total == 0 {
		return 1.0
	}
	return float64(passed) / float64(total)
}

var (
	zip5Rx     = regexp.MustCompile(`^\d{5}$`)
	zip9Rx     = regexp.MustCompile(`^\d{9}$`)
	localityRx = regexp.MustCompile(`^\d+$`)
	isoDateRx  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Structural checks that every non-nullable schema column is present on
// every row and that typed values coerce.
func Structural(frame parsekit.Frame, ctx Context) ValidationReport {
	report := ValidationReport{
		RuleName:    "structural",
		Description: "required columns present, typed values coerce",
		Severity:    core.SeverityBlock,
		Threshold:   1.0,
	}

	for _, row := range frame.Rows {
		ok := true
		for _, col := range ctx.Schema.Columns {
			value, present := row.Get(col.Name)
			if !present {
				if !col.Nullable {
					report.addFailure(fmt.Sprintf("row %d: %s is null", row.Pos, col.Name))
					ok = false
					break
				}
				continue
			}
			if !coerces(value, col.Type) {
				report.addFailure(fmt.Sprintf("row %d: %s=%q does not coerce to %s", row.Pos, col.Name, value, col.Type))
				ok = false
				break
			}
		}
		if ok {
			report.PassedCount++
		}
	}
	report.QualityScore = scoreOf(report.PassedCount, report.FailedCount)
	return report
}

func coerces(value string, t core.ColumnType) bool {
	switch t {
	case core.TypeFloat:
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	case core.TypeInteger:
		_, err := strconv.ParseInt(value, 10, 64)
		return err == nil
	case core.TypeDate:
		if !isoDateRx.MatchString(value) {
			return false
		}
		_, err := time.Parse("2006-01-02", value)
		return err == nil
	case core.TypeBoolean:
		return value == "true" || value == "false"
	default:
		return true
	}
}

// Domain checks the well-known shapes: ZIP5, ZIP9, state postal codes,
// locality codes, ISO dates. Only columns present in the frame are checked.
func Domain(frame parsekit.Frame, ctx Context) ValidationReport {
	report := ValidationReport{
		RuleName:    "domain",
		Description: "ZIP/state/locality/date value shapes",
		Severity:    core.SeverityBlock,
		Threshold:   1.0,
	}

	type check struct {
		column string
		verify func(string) bool
	}
	checks := []check{
		{"zip5", zip5Rx.MatchString},
		{"zip9_low", zip9Rx.MatchString},
		{"zip9_high", zip9Rx.MatchString},
		{"state", core.IsUSPostalCode},
		{"locality", localityRx.MatchString},
		{"locality_code", localityRx.MatchString},
		{"effective_from", isoDateRx.MatchString},
		{"effective_to", isoDateRx.MatchString},
		{"vintage_date", isoDateRx.MatchString},
	}
	active := make([]check, 0, len(checks))
	inFrame := make(map[string]bool, len(frame.Columns))
	for _, col := range frame.Columns {
		inFrame[col] = true
	}
	for _, c := range checks {
		if inFrame[c.column] {
			active = append(active, c)
		}
	}

	for _, row := range frame.Rows {
		ok := true
		for _, c := range active {
			if value, present := row.Get(c.column); present && !c.verify(value) {
				report.addFailure(fmt.Sprintf("row %d: %s=%q", row.Pos, c.column, value))
				ok = false
				break
			}
		}
		if ok {
			report.PassedCount++
		}
	}
	report.QualityScore = scoreOf(report.PassedCount, report.FailedCount)
	return report
}

// Business applies the dataset-aware rules: natural-key uniqueness within
// the vintage, effective-date ordering, future dates (WARN only), and the
// RVU-specific consistency checks.
func Business(frame parsekit.Frame, ctx Context) ValidationReport {
	report := ValidationReport{
		RuleName:    "business",
		Description: "natural keys, date ordering, RVU consistency",
		Severity:    core.SeverityBlock,
		Threshold:   1.0,
	}
	today := ctx.now().UTC().Format("2006-01-02")

	seenKeys := make(map[string]bool, frame.Len())
	for _, row := range frame.Rows {
		ok := true

		if len(ctx.Schema.NaturalKeys) > 0 && ctx.Schema.NaturalKeySeverity == core.SeverityBlock {
			key := strings.Join(parsekit.KeyTuple(row, ctx.Schema.NaturalKeys), "\x1f")
			if seenKeys[key] {
				report.addFailure(fmt.Sprintf("row %d: duplicate natural key %v", row.Pos, parsekit.KeyTuple(row, ctx.Schema.NaturalKeys)))
				ok = false
			}
			seenKeys[key] = true
		}

		from, hasFrom := row.Get("effective_from")
		to, hasTo := row.Get("effective_to")
		if hasFrom && hasTo && to < from {
			report.addFailure(fmt.Sprintf("row %d: effective_to %s < effective_from %s", row.Pos, to, from))
			ok = false
		}
		// future effective dates are legitimate for pre-published vintages
		if hasFrom && from > today {
			report.WarningCount++
		}

		if ctx.Schema.Dataset == "cms_pprrvu" && ok {
			ok = checkRVURow(row, &report)
		}

		if ok {
			report.PassedCount++
		}
	}
	report.QualityScore = scoreOf(report.PassedCount, report.FailedCount)
	return report
}

// payableStatusCodes are the PPRRVU status codes that require a work RVU.
var payableStatusCodes = map[string]bool{"A": true, "R": true, "T": true}

func checkRVURow(row parsekit.Row, report *ValidationReport) bool {
	status, _ := row.Get("status_code")
	_, hasWork := row.Get("work_rvu")
	if payableStatusCodes[status] && !hasWork {
		report.addFailure(fmt.Sprintf("row %d: status %s without work_rvu", row.Pos, status))
		return false
	}
	if na, _ := row.Get("na_indicator"); na == "1" {
		if _, hasNonFac := row.Get("pe_rvu_nonfac"); hasNonFac {
			report.addFailure(fmt.Sprintf("row %d: na_indicator=1 but pe_rvu_nonfac is set", row.Pos))
			return false
		}
	}
	return true
}

// Completeness measures the non-null share of each critical column. The rule
// is WARN severity: a shortfall lowers the quality score instead of blocking.
func Completeness(frame parsekit.Frame, ctx Context) ValidationReport {
	report := ValidationReport{
		RuleName:    "completeness",
		Description: "critical columns are >= 99% non-null",
		Severity:    core.SeverityWarn,
		Threshold:   DefaultCompletenessThreshold,
	}
	columns := ctx.Schema.CriticalColumns
	if len(columns) == 0 || frame.Len() == 0 {
		report.QualityScore = 1.0
		report.PassedCount = frame.Len()
		return report
	}

	sum := 0.0
	for _, col := range columns {
		nonNull := 0
		for _, row := range frame.Rows {
			if _, present := row.Get(col); present {
				nonNull++
			}
		}
		share := float64(nonNull) / float64(frame.Len())
		sum += share
		if share < DefaultCompletenessThreshold {
			report.WarningCount++
			if len(report.SampleFailures) < MaxSampleFailures {
				report.SampleFailures = append(report.SampleFailures,
					fmt.Sprintf("column %s is %.2f%% non-null", col, share*100))
			}
		}
	}
	report.QualityScore = sum / float64(len(columns))
	report.PassedCount = frame.Len()
	return report
}

// CrossDatasetZIP9 checks that each ZIP9 override range agrees with the ZIP5
// locality mapping of its prefix on state. Conflicts are WARN: overrides are
// allowed to refine the locality, but a state mismatch is always suspicious.
func CrossDatasetZIP9(zip9 parsekit.Frame, zip5 parsekit.Frame) ValidationReport {
	report := ValidationReport{
		RuleName:    "cross_dataset_zip9",
		Description: "ZIP9 override ranges consistent with ZIP5 locality mapping",
		Severity:    core.SeverityWarn,
		Threshold:   DefaultQualityThreshold,
	}

	stateByZip5 := make(map[string]string, zip5.Len())
	for _, row := range zip5.Rows {
		if z, present := row.Get("zip5"); present {
			stateByZip5[z], _ = row.Get("state")
		}
	}

	for _, row := range zip9.Rows {
		low, _ := row.Get("zip9_low")
		if len(low) < 5 {
			report.PassedCount++
			continue
		}
		prefix := low[:5]
		zip5State, known := stateByZip5[prefix]
		if !known {
			// a ZIP9 override without a ZIP5 base record
			report.WarningCount++
			if len(report.SampleFailures) < MaxSampleFailures {
				report.SampleFailures = append(report.SampleFailures,
					fmt.Sprintf("row %d: no ZIP5 record for prefix %s", row.Pos, prefix))
			}
			report.PassedCount++
			continue
		}
		if state, _ := row.Get("state"); state != zip5State {
			report.addFailure(fmt.Sprintf("row %d: ZIP9 state %s != ZIP5 state %s for %s", row.Pos, state, zip5State, prefix))
			continue
		}
		report.PassedCount++
	}
	report.QualityScore = scoreOf(report.PassedCount, report.FailedCount)
	return report
}
