// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// DefaultMaxRadiusMiles bounds the candidate search when the caller does not
// give a radius.
const DefaultMaxRadiusMiles = 100.0

// Flag values as they appear in Result.Trace.Flags.
const (
	FlagCoincident  = "coincident"   // nearest neighbor is less than a mile away
	FlagFarNeighbor = "far_neighbor" // nearest neighbor is more than ten miles away
)

// Options tunes a single FindNearestZip call.
type Options struct {
	UseNBER        bool
	MaxRadiusMiles float64
	IncludeTrace   bool
}

// DefaultOptions returns the contract's default parameters.
func DefaultOptions() Options {
	return Options{UseNBER: true, MaxRadiusMiles: DefaultMaxRadiusMiles, IncludeTrace: false}
}

// Result is the successful outcome of a FindNearestZip call.
type Result struct {
	InputZip      string  `json:"input_zip"`
	NearestZip    string  `json:"nearest_zip"`
	DistanceMiles float64 `json:"distance_miles"`
	Trace         *Trace  `json:"trace,omitempty"`
}

// TraceStep is one recorded decision inside a resolver call.
type TraceStep struct {
	Step   string `json:"step"`
	Detail string `json:"detail"`
}

// Trace is the immutable record of one resolver call. It is persisted through
// the TraceSink and optionally returned to the caller.
type Trace struct {
	InputZip           string      `json:"input_zip"`
	NormalizedZip5     string      `json:"normalized_zip5"`
	MatchPath          string      `json:"match_path"` // "zip9_override" or "zip5_locality"
	ZIP9Hit            bool        `json:"zip9_hit"`
	State              string      `json:"state"`
	Locality           string      `json:"locality"`
	StartingZCTA       string      `json:"starting_zcta"`
	CentroidProvenance string      `json:"centroid_provenance"`
	CandidateCount     int         `json:"candidate_count"`
	Flags              []string    `json:"flags"`
	Steps              []TraceStep `json:"steps"`
	AsymmetryDetected  bool        `json:"asymmetry_detected"`
	ResolvedAt         time.Time   `json:"resolved_at"`
}

func (t *Trace) addStep(step, format string, args ...any) {
	t.Steps = append(t.Steps, TraceStep{Step: step, Detail: fmt.Sprintf(format, args...)})
}

// TraceSink persists resolver traces. The DB-backed implementation is
// DBTraceSink; tests use NopTraceSink or an in-memory recorder.
type TraceSink interface {
	SaveTrace(trace db.ResolverTrace) error
}

// DBTraceSink writes traces into the resolver_traces table.
type DBTraceSink struct {
	DB *gorp.DbMap
}

// SaveTrace implements the TraceSink interface.
func (s DBTraceSink) SaveTrace(trace db.ResolverTrace) error {
	return s.DB.Insert(&trace)
}

// NopTraceSink discards traces.
type NopTraceSink struct{}

// SaveTrace implements the TraceSink interface.
func (NopTraceSink) SaveTrace(db.ResolverTrace) error { return nil }

// Resolver answers nearest-ZIP queries over the published geography tables.
type Resolver struct {
	Geo    GeoData
	Traces TraceSink

	// dependency injection slot (usually time.Now, except in tests)
	TimeNow func() time.Time
}

// New builds a Resolver.
func New(geo GeoData, traces TraceSink) *Resolver {
	if traces == nil {
		traces = NopTraceSink{}
	}
	return &Resolver{Geo: geo, Traces: traces, TimeNow: time.Now}
}

// FindNearestZip returns the nearest non-PO-box ZIP5 within the same CMS
// state as the input ZIP5 or ZIP9. Errors carry one of the contract's
// ResolverErrorCode values where applicable.
func (r *Resolver) FindNearestZip(ctx context.Context, input string, opts Options) (Result, error) {
	if opts.MaxRadiusMiles <= 0 {
		opts.MaxRadiusMiles = DefaultMaxRadiusMiles
	}
	result, trace, err := r.resolve(ctx, input, opts, true)
	if err != nil {
		return Result{}, err
	}
	if err := r.persistTrace(input, trace, result); err != nil {
		// a trace write failure does not invalidate the answer
		logg.Error("could not persist resolver trace for %q: %s", input, err.Error())
	}
	if opts.IncludeTrace {
		result.Trace = trace
	}
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, input string, opts Options, checkAsymmetry bool) (Result, *Trace, error) {
	trace := &Trace{
		InputZip:   input,
		Flags:      []string{},
		ResolvedAt: r.TimeNow().UTC(),
	}

	// step 1: parse
	digits := keepDigits(input)
	var zip5, zip9 string
	switch len(digits) {
	case 5:
		zip5 = digits
	case 9:
		zip5, zip9 = digits[:5], digits
	default:
		return Result{}, nil, core.ResolverError{
			Code:    core.ResolveInvalidZip,
			Message: fmt.Sprintf("input %q does not contain 5 or 9 digits", input),
		}
	}
	trace.NormalizedZip5 = zip5
	trace.addStep("parse", "input %q normalized to zip5=%s zip9=%s", input, zip5, zip9)

	// step 2: state and locality
	state, _, err := r.resolveState(zip5, zip9, trace)
	if err != nil {
		return Result{}, nil, err
	}

	// step 3: starting ZCTA
	startZCTA, err := r.startingZCTA(zip5, trace)
	if err != nil {
		return Result{}, nil, err
	}

	// step 4: starting centroid
	engine := NewDistanceEngine(r.Geo, opts.UseNBER)
	startCentroid, err := engine.centroid(startZCTA)
	if err != nil {
		return Result{}, nil, err
	}
	if startCentroid == nil {
		return Result{}, nil, core.ResolverError{
			Code:    core.ResolveNoCoords,
			Message: fmt.Sprintf("no centroid on record for ZCTA %s", startZCTA),
		}
	}
	trace.CentroidProvenance = startCentroid.Source
	trace.addStep("centroid", "ZCTA %s centroid (%f, %f) from %s",
		startZCTA, startCentroid.Lat, startCentroid.Lon, startCentroid.Source)

	// step 5: candidate set
	candidates, err := r.Geo.CandidatesInState(state, zip5)
	if err != nil {
		return Result{}, nil, fmt.Errorf("while listing candidates in %s: %w", state, err)
	}
	if len(candidates) == 0 {
		return Result{}, nil, core.ResolverError{
			Code:    core.ResolveNoCandidatesInState,
			Message: fmt.Sprintf("no non-PO-box candidate ZIPs in state %s", state),
		}
	}
	trace.CandidateCount = len(candidates)
	trace.addStep("candidates", "%d non-PO-box candidates in state %s", len(candidates), state)

	// steps 6+7: distances, radius filter, tie-break
	type scored struct {
		Candidate
		Distance float64
	}
	var inRange []scored
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, nil, err
		}
		if cand.ZCTA5 == "" {
			continue
		}
		dist, err := engine.Calculate(startZCTA, cand.ZCTA5)
		if err != nil {
			continue
		}
		if dist.MethodUsed == "self" || dist.DistanceMiles > opts.MaxRadiusMiles {
			continue
		}
		if dist.DiscrepancyDetected {
			trace.addStep("distance", "pair (%s, %s): NBER/Haversine disagree by %.2f miles, used haversine",
				startZCTA, cand.ZCTA5, *dist.DiscrepancyMiles)
		}
		inRange = append(inRange, scored{Candidate: cand, Distance: dist.DistanceMiles})
	}
	if len(inRange) == 0 {
		return Result{}, nil, core.ResolverError{
			Code:    core.ResolveNoCandidatesInState,
			Message: fmt.Sprintf("no candidate within %.0f miles in state %s", opts.MaxRadiusMiles, state),
		}
	}
	sort.Slice(inRange, func(i, j int) bool {
		lhs, rhs := inRange[i], inRange[j]
		if lhs.Distance != rhs.Distance {
			return lhs.Distance < rhs.Distance
		}
		if populationOrZero(lhs.Population) != populationOrZero(rhs.Population) {
			return populationOrZero(lhs.Population) < populationOrZero(rhs.Population)
		}
		return lhs.ZIP5 < rhs.ZIP5
	})
	winner := inRange[0]
	trace.addStep("selection", "nearest is %s at %.2f miles", winner.ZIP5, winner.Distance)

	// step 8: flags
	if winner.Distance < 1.0 {
		trace.Flags = append(trace.Flags, FlagCoincident)
	}
	if winner.Distance > 10.0 {
		trace.Flags = append(trace.Flags, FlagFarNeighbor)
	}

	result := Result{
		InputZip:      input,
		NearestZip:    winner.ZIP5,
		DistanceMiles: winner.Distance,
	}

	// step 10: asymmetry check (informational, stays within the state)
	if checkAsymmetry && opts.IncludeTrace {
		reverseOpts := opts
		reverseOpts.IncludeTrace = false
		reverse, _, err := r.resolve(ctx, winner.ZIP5, reverseOpts, false)
		if err == nil && reverse.NearestZip != zip5 {
			trace.AsymmetryDetected = true
			trace.addStep("asymmetry", "reverse lookup from %s returned %s, not %s",
				winner.ZIP5, reverse.NearestZip, zip5)
		}
	}

	return result, trace, nil
}

// resolveState finds the CMS state and locality for the input, preferring a
// ZIP9 override (inclusive range bounds) over the ZIP5 locality row.
func (r *Resolver) resolveState(zip5, zip9 string, trace *Trace) (state, locality string, err error) {
	if zip9 != "" {
		override, exists, err := r.Geo.FindZIP9Override(zip9)
		if err != nil {
			return "", "", fmt.Errorf("while looking up ZIP9 override: %w", err)
		}
		if exists {
			trace.MatchPath = "zip9_override"
			trace.ZIP9Hit = true
			trace.State = override.State
			trace.Locality = override.Locality
			trace.addStep("state", "ZIP9 %s hit override [%s, %s]: state=%s locality=%s",
				zip9, override.ZIP9Low, override.ZIP9High, override.State, override.Locality)
			return override.State, override.Locality, nil
		}
	}

	row, exists, err := r.Geo.FindZIP5Locality(zip5)
	if err != nil {
		return "", "", fmt.Errorf("while looking up ZIP5 locality: %w", err)
	}
	if !exists {
		return "", "", core.ResolverError{
			Code:    core.ResolveNoState,
			Message: fmt.Sprintf("ZIP5 %s has no locality record", zip5),
		}
	}
	trace.MatchPath = "zip5_locality"
	trace.State = row.State
	trace.Locality = row.Locality
	trace.addStep("state", "ZIP5 %s: state=%s locality=%s", zip5, row.State, row.Locality)
	return row.State, row.Locality, nil
}

// startingZCTA picks the canonical crosswalk row for the input ZIP5: prefer
// relationship "Zip matches ZCTA", within that the highest weight, nulls last.
func (r *Resolver) startingZCTA(zip5 string, trace *Trace) (string, error) {
	rows, err := r.Geo.CrosswalkRows(zip5)
	if err != nil {
		return "", fmt.Errorf("while looking up ZIP-to-ZCTA crosswalk: %w", err)
	}
	if len(rows) == 0 {
		return "", core.ResolverError{
			Code:    core.ResolveNoZCTA,
			Message: fmt.Sprintf("ZIP5 %s has no ZCTA crosswalk row", zip5),
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		lhs, rhs := rows[i], rows[j]
		lhsExact := isExactRelationship(lhs.Relationship)
		rhsExact := isExactRelationship(rhs.Relationship)
		if lhsExact != rhsExact {
			return lhsExact
		}
		switch {
		case lhs.Weight == nil:
			return false
		case rhs.Weight == nil:
			return true
		default:
			return *lhs.Weight > *rhs.Weight
		}
	})
	chosen := rows[0]
	trace.StartingZCTA = chosen.ZCTA5
	trace.addStep("zcta", "ZIP5 %s maps to ZCTA %s (relationship=%q, %d crosswalk rows)",
		zip5, chosen.ZCTA5, chosen.Relationship, len(rows))
	return chosen.ZCTA5, nil
}

func (r *Resolver) persistTrace(input string, trace *Trace, result Result) error {
	flagsJSON, err := json.Marshal(trace.Flags)
	if err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(trace.Steps)
	if err != nil {
		return err
	}
	return r.Traces.SaveTrace(db.ResolverTrace{
		InputZip:       input,
		NormalizedZip5: trace.NormalizedZip5,
		MatchPath:      trace.MatchPath,
		NearestZip:     result.NearestZip,
		DistanceMiles:  result.DistanceMiles,
		FlagsJSON:      string(flagsJSON),
		StepsJSON:      string(stepsJSON),
		ResolvedAt:     trace.ResolvedAt,
	})
}

func keepDigits(input string) string {
	var buf strings.Builder
	for _, char := range input {
		if char >= '0' && char <= '9' {
			buf.WriteRune(char)
		}
	}
	return buf.String()
}

// isExactRelationship matches the crosswalk's "exact" relationship in both
// of its wild forms ("exact" and the UDS wording "Zip matches ZCTA").
func isExactRelationship(relationship string) bool {
	switch strings.ToLower(strings.TrimSpace(relationship)) {
	case "exact", "zip matches zcta":
		return true
	default:
		return false
	}
}

func populationOrZero(population *int64) int64 {
	if population == nil {
		return 0
	}
	return *population
}
