// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"fmt"
	"math"

	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// earthRadiusMiles is the mean Earth radius used by the Haversine formula.
const earthRadiusMiles = 3959.0

// discrepancyThresholdMiles is how far the NBER table may disagree with the
// Haversine computation before we distrust the table row.
const discrepancyThresholdMiles = 1.0

// DistanceResult reports one ZCTA-pair distance computation, including which
// method produced the headline number and the raw per-method values.
type DistanceResult struct {
	DistanceMiles       float64  `json:"distance_miles"`
	MethodUsed          string   `json:"method_used"` // "nber", "haversine" or "self"
	NBERAvailable       bool     `json:"nber_available"`
	HaversineAvailable  bool     `json:"haversine_available"`
	NBERDistance        *float64 `json:"nber_distance,omitempty"`
	HaversineDistance   *float64 `json:"haversine_distance,omitempty"`
	DiscrepancyDetected bool     `json:"discrepancy_detected"`
	DiscrepancyMiles    *float64 `json:"discrepancy_miles,omitempty"`
}

type zctaPair struct {
	A, B string // normalized with A <= B
}

// DistanceEngine computes ZCTA-to-ZCTA distances, preferring the precomputed
// NBER table and falling back to Haversine over stored centroids. Results and
// centroid lookups are cached for the lifetime of the engine, which is one
// batch (or one resolver call tree).
//
// The engine is not safe for concurrent use; each resolver call builds its
// own, or callers serialize access.
type DistanceEngine struct {
	Geo     GeoData
	UseNBER bool

	resultCache   map[zctaPair]DistanceResult
	centroidCache map[string]*db.ZCTACentroid // nil entry = known absent
}

// NewDistanceEngine builds a DistanceEngine with empty caches.
func NewDistanceEngine(geo GeoData, useNBER bool) *DistanceEngine {
	return &DistanceEngine{
		Geo:           geo,
		UseNBER:       useNBER,
		resultCache:   make(map[zctaPair]DistanceResult),
		centroidCache: make(map[string]*db.ZCTACentroid),
	}
}

// Calculate returns the distance between two ZCTAs. The computation is
// symmetric: Calculate(a, b) and Calculate(b, a) hit the same cache entry and
// return the same result.
func (e *DistanceEngine) Calculate(zctaA, zctaB string) (DistanceResult, error) {
	if zctaA == zctaB {
		return DistanceResult{DistanceMiles: 0.0, MethodUsed: "self"}, nil
	}
	pair := zctaPair{zctaA, zctaB}
	if pair.B < pair.A {
		pair.A, pair.B = pair.B, pair.A
	}
	if cached, exists := e.resultCache[pair]; exists {
		return cached, nil
	}

	var result DistanceResult

	if e.UseNBER {
		miles, exists, err := e.Geo.NBERMiles(pair.A, pair.B)
		if err != nil {
			return DistanceResult{}, fmt.Errorf("while looking up NBER distance (%s, %s): %w", pair.A, pair.B, err)
		}
		if exists {
			result.NBERAvailable = true
			result.NBERDistance = &miles
		}
	}

	centroidA, err := e.centroid(zctaA)
	if err != nil {
		return DistanceResult{}, err
	}
	centroidB, err := e.centroid(zctaB)
	if err != nil {
		return DistanceResult{}, err
	}
	if centroidA != nil && centroidB != nil {
		miles := haversineMiles(centroidA.Lat, centroidA.Lon, centroidB.Lat, centroidB.Lon)
		result.HaversineAvailable = true
		result.HaversineDistance = &miles
	}

	switch {
	case result.NBERAvailable && result.HaversineAvailable:
		diff := math.Abs(*result.NBERDistance - *result.HaversineDistance)
		if diff > discrepancyThresholdMiles {
			// the NBER row is suspect, trust the geometry
			result.DiscrepancyDetected = true
			result.DiscrepancyMiles = &diff
			result.DistanceMiles = *result.HaversineDistance
			result.MethodUsed = "haversine"
		} else {
			result.DistanceMiles = *result.NBERDistance
			result.MethodUsed = "nber"
		}
	case result.NBERAvailable:
		result.DistanceMiles = *result.NBERDistance
		result.MethodUsed = "nber"
	case result.HaversineAvailable:
		result.DistanceMiles = *result.HaversineDistance
		result.MethodUsed = "haversine"
	default:
		return DistanceResult{}, fmt.Errorf("no distance method available for pair (%s, %s)", zctaA, zctaB)
	}

	e.resultCache[pair] = result
	return result, nil
}

// Batch computes one-to-many distances from a source ZCTA. Targets without
// any usable distance method are omitted from the result map.
func (e *DistanceEngine) Batch(source string, targets []string) (map[string]DistanceResult, error) {
	out := make(map[string]DistanceResult, len(targets))
	for _, target := range targets {
		result, err := e.Calculate(source, target)
		if err != nil {
			continue
		}
		out[target] = result
	}
	return out, nil
}

func (e *DistanceEngine) centroid(zcta5 string) (*db.ZCTACentroid, error) {
	if cached, exists := e.centroidCache[zcta5]; exists {
		return cached, nil
	}
	row, exists, err := e.Geo.Centroid(zcta5)
	if err != nil {
		return nil, fmt.Errorf("while looking up centroid for ZCTA %s: %w", zcta5, err)
	}
	var entry *db.ZCTACentroid
	if exists {
		entry = &row
	}
	e.centroidCache[zcta5] = entry
	return entry, nil
}

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180.0
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
