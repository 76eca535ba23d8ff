// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/alex-bea/cms-api-sub001/internal/db"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

// DBEnricher is the Enrich stage: it writes the parsed geography frames into
// the curated database tables that the nearest-ZIP resolver reads, and seeds
// the static reference tables (centroids, crosswalk, NBER distances, ZIP
// metadata) from the reference directory on first use.
type DBEnricher struct {
	DB           *gorp.DbMap
	ReferenceDir string
	Vintage      string
}

// NewDBEnricher builds a DBEnricher.
func NewDBEnricher(dbm *gorp.DbMap, referenceDir, vintage string) *DBEnricher {
	return &DBEnricher{DB: dbm, ReferenceDir: referenceDir, Vintage: vintage}
}

// Enrich implements the Enricher interface. All writes happen in one
// transaction keyed by batch: a failed write leaves the prior snapshot
// intact. Published rows are append-only by release; a rerun must use a
// distinct release_id.
func (e *DBEnricher) Enrich(ctx context.Context, batchID string, results map[string]parsekit.ParseResult) (int64, error) {
	if err := e.seedReferenceTables(ctx); err != nil {
		return 0, err
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	var inserted int64
	if result, exists := results["cms_zip5_locality"]; exists {
		count, err := insertZIP5Rows(tx, result.Data)
		if err != nil {
			return 0, fmt.Errorf("while writing zip5_locality rows: %w", err)
		}
		inserted += count
	}
	if result, exists := results["cms_zip9_overrides"]; exists {
		count, err := insertZIP9Rows(tx, result.Data)
		if err != nil {
			return 0, fmt.Errorf("while writing zip9_overrides rows: %w", err)
		}
		inserted += count
	}

	if inserted > 0 {
		logg.Info("enrich: batch %s wrote %d geography rows", batchID, inserted)
	}
	return inserted, tx.Commit()
}

func insertZIP5Rows(tx *gorp.Transaction, frame parsekit.Frame) (int64, error) {
	var count int64
	for _, row := range frame.Rows {
		record := db.ZIP5Locality{
			ZIP5:           row.Values["zip5"],
			State:          row.Values["state"],
			Locality:       row.Values["locality"],
			CarrierMAC:     row.Values["carrier_mac"],
			RuralFlag:      row.Values["rural_flag"],
			EffectiveFrom:  row.Values["effective_from"],
			ReleaseID:      row.Values["release_id"],
			RowContentHash: row.Values["row_content_hash"],
		}
		if err := tx.Insert(&record); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func insertZIP9Rows(tx *gorp.Transaction, frame parsekit.Frame) (int64, error) {
	var count int64
	for _, row := range frame.Rows {
		record := db.ZIP9Override{
			ZIP9Low:        row.Values["zip9_low"],
			ZIP9High:       row.Values["zip9_high"],
			State:          row.Values["state"],
			Locality:       row.Values["locality"],
			RuralFlag:      row.Values["rural_flag"],
			EffectiveFrom:  row.Values["effective_from"],
			ReleaseID:      row.Values["release_id"],
			RowContentHash: row.Values["row_content_hash"],
		}
		if err := tx.Insert(&record); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// seedReferenceTables loads the static reference datasets into the DB if the
// respective table is still empty. Reference data is read-only during
// ingestion, so a non-empty table is never overwritten.
func (e *DBEnricher) seedReferenceTables(ctx context.Context) error {
	type seed struct {
		table string
		load  func() (func(tx *gorp.Transaction) error, error)
	}
	seeds := []seed{
		{"zcta_centroids", func() (func(tx *gorp.Transaction) error, error) {
			rows, err := LoadZCTACentroids(e.ReferenceDir, e.Vintage)
			if err != nil {
				return nil, err
			}
			return func(tx *gorp.Transaction) error { return insertAll(tx, rows) }, nil
		}},
		{"zip_to_zcta", func() (func(tx *gorp.Transaction) error, error) {
			rows, err := LoadZipToZCTA(e.ReferenceDir, e.Vintage)
			if err != nil {
				return nil, err
			}
			return func(tx *gorp.Transaction) error { return insertAll(tx, rows) }, nil
		}},
		{"zip_metadata", func() (func(tx *gorp.Transaction) error, error) {
			rows, err := LoadZipMetadata(e.ReferenceDir)
			if err != nil {
				return nil, err
			}
			return func(tx *gorp.Transaction) error { return insertAll(tx, rows) }, nil
		}},
		{"nber_distances", func() (func(tx *gorp.Transaction) error, error) {
			rows, err := LoadNBERDistances(e.ReferenceDir)
			if err != nil {
				return nil, err
			}
			return func(tx *gorp.Transaction) error { return insertAll(tx, rows) }, nil
		}},
	}

	for _, s := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, err := e.DB.SelectInt("SELECT COUNT(*) FROM " + s.table)
		if err != nil {
			return fmt.Errorf("while counting %s: %w", s.table, err)
		}
		if count > 0 {
			continue
		}
		if err := e.seedOne(s.table, s.load); err != nil {
			return err
		}
	}
	return nil
}

func (e *DBEnricher) seedOne(table string, load func() (func(tx *gorp.Transaction) error, error)) error {
	insert, err := load()
	if err != nil {
		return fmt.Errorf("while loading reference data for %s: %w", table, err)
	}
	tx, err := e.DB.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)
	if err := insert(tx); err != nil {
		return fmt.Errorf("while seeding %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logg.Info("enrich: seeded reference table %s", table)
	return nil
}

func insertAll[T any](tx *gorp.Transaction, rows []T) error {
	for idx := range rows {
		if err := tx.Insert(&rows[idx]); err != nil {
			return err
		}
	}
	return nil
}
