// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/db"
)

func distanceGeo() *fakeGeo {
	return &fakeGeo{
		centroids: map[string]db.ZCTACentroid{
			"11111": {ZCTA5: "11111", Lat: 38.90, Lon: -120.00, Source: "gazetteer"},
			"22222": {ZCTA5: "22222", Lat: 38.95, Lon: -120.00, Source: "gazetteer"},
			"33333": {ZCTA5: "33333", Lat: 39.00, Lon: -120.00, Source: "nber_fallback"},
			// no centroid for 44444
		},
		nber: map[zctaPair]float64{
			{"11111", "22222"}: 3.40,  // close to the true 3.45, trusted
			{"22222", "33333"}: 50.00, // way off, distrusted
			{"11111", "44444"}: 7.00,  // only the table knows this pair
		},
	}
}

func TestDistanceSelf(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), true)
	result, err := e.Calculate("11111", "11111")
	require.NoError(t, err)
	assert.Zero(t, result.DistanceMiles)
	assert.Equal(t, "self", result.MethodUsed)
}

func TestDistancePrefersNBERWhenAgreeing(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), true)
	result, err := e.Calculate("11111", "22222")
	require.NoError(t, err)

	assert.Equal(t, "nber", result.MethodUsed)
	assert.Equal(t, 3.40, result.DistanceMiles)
	assert.True(t, result.NBERAvailable)
	assert.True(t, result.HaversineAvailable)
	assert.False(t, result.DiscrepancyDetected)
	require.NotNil(t, result.HaversineDistance)
	assert.InDelta(t, 3.45, *result.HaversineDistance, 0.05)
}

func TestDistanceDiscrepancyPrefersHaversine(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), true)
	result, err := e.Calculate("22222", "33333")
	require.NoError(t, err)

	assert.Equal(t, "haversine", result.MethodUsed)
	assert.InDelta(t, 3.45, result.DistanceMiles, 0.05)
	assert.True(t, result.DiscrepancyDetected)
	require.NotNil(t, result.DiscrepancyMiles)
	assert.InDelta(t, 46.55, *result.DiscrepancyMiles, 0.1)
}

func TestDistanceNBEROnly(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), true)
	result, err := e.Calculate("11111", "44444")
	require.NoError(t, err)
	assert.Equal(t, "nber", result.MethodUsed)
	assert.Equal(t, 7.00, result.DistanceMiles)
	assert.False(t, result.HaversineAvailable)
}

func TestDistanceHaversineOnly(t *testing.T) {
	// NBER disabled: the table row for the pair must be ignored
	e := NewDistanceEngine(distanceGeo(), false)
	result, err := e.Calculate("22222", "33333")
	require.NoError(t, err)
	assert.Equal(t, "haversine", result.MethodUsed)
	assert.False(t, result.NBERAvailable)
}

func TestDistanceNoMethod(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), false)
	_, err := e.Calculate("11111", "44444")
	assert.Error(t, err)
}

func TestDistanceSymmetric(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), true)
	forward, err := e.Calculate("11111", "22222")
	require.NoError(t, err)
	backward, err := e.Calculate("22222", "11111")
	require.NoError(t, err)
	assert.Equal(t, forward, backward)
}

func TestDistanceBatch(t *testing.T) {
	e := NewDistanceEngine(distanceGeo(), true)
	results, err := e.Batch("11111", []string{"22222", "33333", "44444", "55555"})
	require.NoError(t, err)

	// 55555 has neither a table row nor a centroid and is omitted
	assert.Len(t, results, 3)
	assert.Equal(t, "nber", results["22222"].MethodUsed)
	assert.Equal(t, "haversine", results["33333"].MethodUsed)
	assert.Equal(t, "nber", results["44444"].MethodUsed)
}
