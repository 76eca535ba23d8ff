// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package locfips implements stage 2 of the locality normalization: it
// transforms raw name-based locality rows (stage-1 output of package
// parsers) into canonical FIPS-coded rows, one per
// (mac, locality_code, state_fips, county_fips).
package locfips

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// Quarantine reasons attached to rows that stage 2 cannot expand.
const (
	ReasonUnknownState   = "unknown_state"
	ReasonNoMatch        = "no_match"
	ReasonAmbiguousFuzzy = "ambiguous_fuzzy"
	ReasonEmptyCountyList = "empty_county_list"
)

// Normalizer holds the static inputs of the FIPS expansion.
type Normalizer struct {
	Schema    core.SchemaContract // cms_locality_county
	Reference *core.FIPSReference
	UseFuzzy  bool
	// FuzzyThreshold is the minimum token-set ratio for a fuzzy match
	// (default 0.92). A fuzzy match must also be unambiguous: exactly one
	// candidate above the threshold.
	FuzzyThreshold float64
	// TimeNow is usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

// New creates a Normalizer with defaults applied.
func New(schema core.SchemaContract, ref *core.FIPSReference, useFuzzy bool, threshold float64) *Normalizer {
	if threshold <= 0 {
		threshold = 0.92
	}
	return &Normalizer{
		Schema:         schema,
		Reference:      ref,
		UseFuzzy:       useFuzzy,
		FuzzyThreshold: threshold,
		TimeNow:        time.Now,
	}
}

// expansion methods recorded on each output row
const (
	expandExplicitList      = "explicit_list"
	expandAllCounties       = "all_counties"
	expandAllCountiesExcept = "all_counties_except"
	expandRestOfState       = "rest_of_state"
)

// Normalize expands the stage-1 frame. Output rows are hashed and sorted per
// the parser kit rules; unexpandable raw rows land in the reject frame with
// a structured reason.
func (n *Normalizer) Normalize(stage1 parsekit.Frame, meta parsekit.ReleaseMeta) (parsekit.ParseResult, error) {
	startedAt := n.TimeNow()

	var (
		out     = parsekit.Frame{Columns: n.Schema.ColumnNames()}
		rejects parsekit.RejectFrame
	)

	// First pass: resolve states and expand everything except REST OF
	// expressions, tracking which counties each state's other rows claim.
	type pendingRestOf struct {
		row       parsekit.Row
		stateFIPS string
	}
	var (
		restOfRows []pendingRestOf
		claimed    = make(map[string]map[string]bool) // state_fips -> county_fips -> claimed
	)
	claim := func(stateFIPS, countyFIPS string) {
		if claimed[stateFIPS] == nil {
			claimed[stateFIPS] = make(map[string]bool)
		}
		claimed[stateFIPS][countyFIPS] = true
	}

	for _, row := range stage1.Rows {
		stateName := row.Values["state_name"]
		state, exists := core.StateByName(stateName)
		if !exists {
			rejects.Add(row, "LOCFIPS_STATE", core.SeverityBlock,
				fmt.Sprintf("%s: unknown state name %q", ReasonUnknownState, stateName),
				n.Schema.ID(), meta.ReleaseID)
			continue
		}

		expr := strings.ToUpper(strings.TrimSpace(row.Values["county_names"]))
		if isRestOfState(expr, state.FullName) {
			restOfRows = append(restOfRows, pendingRestOf{row: row, stateFIPS: state.FIPS})
			continue
		}

		matches, method, reason := n.expandCountySet(expr, state, row.Values["fee_area"])
		if reason != "" {
			rejects.Add(row, "LOCFIPS_COUNTY", core.SeverityBlock, reason, n.Schema.ID(), meta.ReleaseID)
			continue
		}
		for _, match := range matches {
			out.Rows = append(out.Rows, n.emitRow(row, state.FIPS, match, method))
			claim(state.FIPS, match.county.CountyFIPS)
		}
	}

	// Second pass: REST OF <state> takes every county of the state that no
	// other locality row claimed.
	for _, pending := range restOfRows {
		emitted := 0
		for _, county := range n.Reference.CountiesInState(pending.stateFIPS) {
			if claimed[pending.stateFIPS][county.CountyFIPS] {
				continue
			}
			out.Rows = append(out.Rows, n.emitRow(pending.row, pending.stateFIPS,
				countyMatch{county: county, method: "expansion"}, expandRestOfState))
			emitted++
		}
		if emitted == 0 {
			rejects.Add(pending.row, "LOCFIPS_COUNTY", core.SeverityBlock,
				fmt.Sprintf("%s: REST OF expansion yielded no counties", ReasonNoMatch),
				n.Schema.ID(), meta.ReleaseID)
		}
	}

	metrics := parsekit.Metrics{ParserVersion: "locfips/" + n.Reference.Vintage}
	metrics.TotalRows = out.Len() + rejects.Len()
	metrics.SetExtra("stage1_rows", stage1.Len())

	return parsekit.Finalize(out, rejects, n.Schema, meta, metrics, startedAt, n.TimeNow())
}

func (n *Normalizer) emitRow(src parsekit.Row, stateFIPS string, match countyMatch, expansionMethod string) parsekit.Row {
	row := parsekit.NewRow(src.Pos)
	row.Values["mac"] = src.Values["mac"]
	row.Values["locality_code"] = src.Values["locality_code"]
	row.Values["state_fips"] = stateFIPS
	row.Values["county_fips"] = match.county.CountyFIPS
	row.Values["county_name_canonical"] = match.county.Name
	if match.county.LSAD != "" {
		row.Values["lsad"] = match.county.LSAD
	}
	row.Values["match_method"] = match.method
	row.Values["expansion_method"] = expansionMethod
	return row
}

type countyMatch struct {
	county core.FIPSCounty
	method string // exact | alias | fuzzy | expansion
}

func isRestOfState(expr, stateFullName string) bool {
	if !strings.HasPrefix(expr, "REST OF") {
		return false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(expr, "REST OF"))
	return rest == "" || rest == stateFullName || rest == "STATE"
}

// expandCountySet handles ALL COUNTIES, ALL COUNTIES EXCEPT <list> and
// explicit comma/slash-delimited lists. A non-empty reason means the whole
// raw row is quarantined.
func (n *Normalizer) expandCountySet(expr string, state core.StateInfo, feeArea string) (matches []countyMatch, method string, reason string) {
	counties := n.Reference.CountiesInState(state.FIPS)

	switch {
	case expr == "":
		return nil, "", fmt.Sprintf("%s: county_names is empty", ReasonEmptyCountyList)

	case expr == "ALL COUNTIES":
		for _, county := range counties {
			matches = append(matches, countyMatch{county: county, method: "expansion"})
		}
		return matches, expandAllCounties, ""

	case strings.HasPrefix(expr, "ALL COUNTIES EXCEPT"):
		excluded := make(map[string]bool)
		for _, name := range splitCountyList(strings.TrimPrefix(expr, "ALL COUNTIES EXCEPT")) {
			match, _, matchReason := n.matchCounty(name, state, feeArea)
			if matchReason != "" {
				return nil, "", matchReason
			}
			excluded[match.county.CountyFIPS] = true
		}
		for _, county := range counties {
			if !excluded[county.CountyFIPS] {
				matches = append(matches, countyMatch{county: county, method: "expansion"})
			}
		}
		return matches, expandAllCountiesExcept, ""

	default:
		seen := make(map[string]bool)
		for _, name := range splitCountyList(expr) {
			match, _, matchReason := n.matchCounty(name, state, feeArea)
			if matchReason != "" {
				return nil, "", matchReason
			}
			if !seen[match.county.CountyFIPS] {
				seen[match.county.CountyFIPS] = true
				matches = append(matches, match)
			}
		}
		if len(matches) == 0 {
			return nil, "", fmt.Sprintf("%s: no counties parsed from %q", ReasonEmptyCountyList, expr)
		}
		return matches, expandExplicitList, ""
	}
}

func splitCountyList(list string) []string {
	parts := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '/' })
	var names []string
	for _, part := range parts {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "AND "))
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

// matchCounty resolves one raw county name inside a state using the tiered
// strategy: exact canonical name, alias, then (if enabled) unambiguous
// fuzzy match. Ambiguity within a state (VA Richmond city vs county, MO
// St. Louis City vs County) is broken by the LSAD hint from fee_area.
func (n *Normalizer) matchCounty(rawName string, state core.StateInfo, feeArea string) (countyMatch, string, string) {
	name := strings.ToUpper(strings.Join(strings.Fields(rawName), " "))
	name = strings.TrimSuffix(name, " COUNTY")
	counties := n.Reference.CountiesInState(state.FIPS)

	// tier (a): exact on canonical name
	var exact []core.FIPSCounty
	for _, county := range counties {
		if county.Name == name {
			exact = append(exact, county)
		}
	}
	if match, ok := pickWithLSADHint(exact, feeArea); ok {
		return countyMatch{county: match, method: "exact"}, "exact", ""
	}

	// tier (b): exact on any alias
	var viaAlias []core.FIPSCounty
	for _, county := range counties {
		for _, alias := range county.Aliases {
			if alias == name || strings.TrimSuffix(alias, " COUNTY") == name {
				viaAlias = append(viaAlias, county)
				break
			}
		}
	}
	if match, ok := pickWithLSADHint(viaAlias, feeArea); ok {
		return countyMatch{county: match, method: "alias"}, "alias", ""
	}

	// tier (c): fuzzy token-set ratio, unambiguous only
	if n.UseFuzzy {
		var fuzzy []core.FIPSCounty
		for _, county := range counties {
			if tokenSetRatio(name, county.Name) >= n.FuzzyThreshold {
				fuzzy = append(fuzzy, county)
			}
		}
		switch len(fuzzy) {
		case 1:
			return countyMatch{county: fuzzy[0], method: "fuzzy"}, "fuzzy", ""
		case 0:
			// fall through to no_match
		default:
			if match, ok := pickWithLSADHint(fuzzy, feeArea); ok {
				return countyMatch{county: match, method: "fuzzy"}, "fuzzy", ""
			}
			return countyMatch{}, "", fmt.Sprintf("%s: %q matches %d counties in %s",
				ReasonAmbiguousFuzzy, rawName, len(fuzzy), state.Postal)
		}
	}

	return countyMatch{}, "", fmt.Sprintf("%s: county %q not found in %s", ReasonNoMatch, rawName, state.Postal)
}

// pickWithLSADHint selects among same-named candidates. With exactly one
// candidate the answer is trivial. With several, the presence of "CITY" in
// fee_area prefers the independent-city FIPS; otherwise the county wins.
func pickWithLSADHint(candidates []core.FIPSCounty, feeArea string) (core.FIPSCounty, bool) {
	switch len(candidates) {
	case 0:
		return core.FIPSCounty{}, false
	case 1:
		return candidates[0], true
	}
	preferCity := strings.Contains(strings.ToUpper(feeArea), "CITY")
	for _, county := range candidates {
		if county.IsIndependentCity() == preferCity {
			return county, true
		}
	}
	// deterministic fallback: lowest county FIPS
	sorted := append([]core.FIPSCounty{}, candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CountyFIPS < sorted[j].CountyFIPS })
	return sorted[0], true
}

// tokenSetRatio computes a similarity in [0,1] over the sorted unique token
// sets of both names, using Levenshtein distance on the joined forms.
func tokenSetRatio(a, b string) float64 {
	join := func(s string) string {
		tokens := strings.Fields(s)
		sort.Strings(tokens)
		unique := tokens[:0]
		last := ""
		for _, tok := range tokens {
			if tok != last {
				unique = append(unique, tok)
				last = tok
			}
		}
		return strings.Join(unique, " ")
	}
	ja, jb := join(a), join(b)
	if ja == jb {
		return 1.0
	}
	longest := len(ja)
	if len(jb) > longest {
		longest = len(jb)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(ja, jb)
	return 1.0 - float64(dist)/float64(longest)
}
