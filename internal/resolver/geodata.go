// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver implements the nearest-ZIP resolver and its distance
// engine. It reads only the published, enriched geography tables; the
// ingestion pipeline never calls into it.
package resolver

import (
	"database/sql"
	"errors"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// Candidate is one potential nearest-ZIP result: a non-PO-box ZIP5 in the
// input's state, with its crosswalked ZCTA and population (nil when unknown).
type Candidate struct {
	ZIP5       string
	ZCTA5      string
	Population *int64
}

// GeoData is the read-only slice of the published geography tables that the
// resolver needs. The DB-backed implementation is GeoDB; tests substitute an
// in-memory fixture.
type GeoData interface {
	// FindZIP9Override returns the override whose inclusive range contains
	// the given ZIP9, if any.
	FindZIP9Override(zip9 string) (db.ZIP9Override, bool, error)
	// FindZIP5Locality returns the locality record for a ZIP5, if any.
	FindZIP5Locality(zip5 string) (db.ZIP5Locality, bool, error)
	// CrosswalkRows returns all ZIP-to-ZCTA rows for a ZIP5.
	CrosswalkRows(zip5 string) ([]db.ZipToZCTA, error)
	// Centroid returns the preferred centroid for a ZCTA: the gazetteer row
	// if present, otherwise the NBER fallback.
	Centroid(zcta5 string) (db.ZCTACentroid, bool, error)
	// NBERMiles returns the precomputed distance for an unordered ZCTA pair.
	NBERMiles(a, b string) (float64, bool, error)
	// CandidatesInState returns all non-PO-box ZIP5s of the given state,
	// excluding the input ZIP5 itself. A NULL is_pobox counts as false.
	CandidatesInState(state, excludeZip5 string) ([]Candidate, error)
}

// GeoDB implements GeoData over the published Postgres tables.
type GeoDB struct {
	DB *gorp.DbMap
}

var findZIP9OverrideQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM zip9_overrides
	 WHERE zip9_low <= $1 AND $1 <= zip9_high
	 ORDER BY effective_from DESC
	 LIMIT 1
`)

// FindZIP9Override implements the GeoData interface. Range bounds are
// inclusive on both ends.
func (g GeoDB) FindZIP9Override(zip9 string) (db.ZIP9Override, bool, error) {
	var row db.ZIP9Override
	err := g.DB.SelectOne(&row, findZIP9OverrideQuery, zip9)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ZIP9Override{}, false, nil
	}
	return row, err == nil, err
}

var findZIP5LocalityQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM zip5_locality
	 WHERE zip5 = $1
	 ORDER BY effective_from DESC
	 LIMIT 1
`)

// FindZIP5Locality implements the GeoData interface. With multiple vintages
// on record, the most recent effective_from wins.
func (g GeoDB) FindZIP5Locality(zip5 string) (db.ZIP5Locality, bool, error) {
	var row db.ZIP5Locality
	err := g.DB.SelectOne(&row, findZIP5LocalityQuery, zip5)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ZIP5Locality{}, false, nil
	}
	return row, err == nil, err
}

// CrosswalkRows implements the GeoData interface.
func (g GeoDB) CrosswalkRows(zip5 string) ([]db.ZipToZCTA, error) {
	var rows []db.ZipToZCTA
	_, err := g.DB.Select(&rows, `SELECT * FROM zip_to_zcta WHERE zip5 = $1`, zip5)
	return rows, err
}

var centroidQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM zcta_centroids
	 WHERE zcta5 = $1
	 -- 'gazetteer' sorts before 'nber_fallback', which is exactly the
	 -- preference order
	 ORDER BY source ASC
	 LIMIT 1
`)

// Centroid implements the GeoData interface.
func (g GeoDB) Centroid(zcta5 string) (db.ZCTACentroid, bool, error) {
	var row db.ZCTACentroid
	err := g.DB.SelectOne(&row, centroidQuery, zcta5)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ZCTACentroid{}, false, nil
	}
	return row, err == nil, err
}

// NBERMiles implements the GeoData interface. Pairs are stored normalized
// with zcta5_a < zcta5_b.
func (g GeoDB) NBERMiles(a, b string) (float64, bool, error) {
	if b < a {
		a, b = b, a
	}
	var row db.NBERDistance
	err := g.DB.SelectOne(&row,
		`SELECT * FROM nber_distances WHERE zcta5_a = $1 AND zcta5_b = $2`, a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.DistanceMiles, true, nil
}

var candidatesQuery = sqlext.SimplifyWhitespace(`
	SELECT l.zip5, COALESCE(x.zcta5, ''), m.population
	  FROM zip5_locality l
	  LEFT JOIN zip_metadata m ON m.zip5 = l.zip5
	  LEFT JOIN zip_to_zcta x ON x.zip5 = l.zip5
	 WHERE l.state = $1 AND l.zip5 != $2
	   AND COALESCE(m.is_pobox, FALSE) = FALSE
	 ORDER BY l.zip5 ASC
`)

// CandidatesInState implements the GeoData interface. When a ZIP5 has
// several crosswalk rows, the refined preference (exact relationship, then
// highest weight) is applied by the caller via CrosswalkRows; this query
// only needs one ZCTA per candidate and deduplicates on zip5.
func (g GeoDB) CandidatesInState(state, excludeZip5 string) ([]Candidate, error) {
	rows, err := g.DB.Db.Query(candidatesQuery, state, excludeZip5)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []Candidate
		seen = make(map[string]bool)
	)
	for rows.Next() {
		var (
			cand Candidate
			pop  sql.NullInt64
		)
		if err := rows.Scan(&cand.ZIP5, &cand.ZCTA5, &pop); err != nil {
			return nil, err
		}
		if seen[cand.ZIP5] {
			continue
		}
		seen[cand.ZIP5] = true
		if pop.Valid {
			cand.Population = &pop.Int64
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}
