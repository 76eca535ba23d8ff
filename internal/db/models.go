// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"time"

	"github.com/go-gorp/gorp/v3"
)

// Run statuses as stored in ingestion_runs.status.
const (
	RunStatusRunning   = "running"
	RunStatusSuccess   = "success"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
	RunStatusCancelled = "cancelled"
)

// IngestionRun contains a record from the `ingestion_runs` table. The table
// is append-only: runs are created, progressed and completed, never deleted.
type IngestionRun struct {
	BatchID           string     `db:"batch_id"`
	DatasetName       string     `db:"dataset_name"`
	ReleaseID         string     `db:"release_id"`
	VintageDate       string     `db:"vintage_date"`
	ProductYear       int        `db:"product_year"`
	SourceURL         string     `db:"source_url"`
	CreatedBy         string     `db:"created_by"`
	StartedAt         time.Time  `db:"started_at"`
	FinishedAt        *time.Time `db:"finished_at"` //pointer type to allow for NULL value
	Status            string     `db:"status"`
	TotalRows         int64      `db:"total_rows"`
	ValidRows         int64      `db:"valid_rows"`
	RejectRows        int64      `db:"reject_rows"`
	OutputRecordCount int64      `db:"output_record_count"`
	QualityScore      float64    `db:"quality_score"`
	SchemaID          string     `db:"schema_id"`
	ErrorMessage      string     `db:"error_message"`
	ErrorType         string     `db:"error_type"`
	ProcessingCostUSD float64    `db:"processing_cost_usd"`
	// large/optional payloads are stored as JSON blobs
	SourceFilesJSON  string `db:"source_files_json"`
	StageTimingsJSON string `db:"stage_timings_json"`
	ValidationJSON   string `db:"validation_json"`
	LineageJSON      string `db:"lineage_json"`
	AlertsJSON       string `db:"alerts_json"`
}

// ZIP5Locality contains a record from the `zip5_locality` table.
type ZIP5Locality struct {
	ZIP5           string `db:"zip5"`
	State          string `db:"state"`
	Locality       string `db:"locality"`
	CarrierMAC     string `db:"carrier_mac"`
	RuralFlag      string `db:"rural_flag"`
	EffectiveFrom  string `db:"effective_from"`
	ReleaseID      string `db:"release_id"`
	RowContentHash string `db:"row_content_hash"`
}

// ZIP9Override contains a record from the `zip9_overrides` table. Bounds are
// inclusive on both ends.
type ZIP9Override struct {
	ZIP9Low        string `db:"zip9_low"`
	ZIP9High       string `db:"zip9_high"`
	State          string `db:"state"`
	Locality       string `db:"locality"`
	RuralFlag      string `db:"rural_flag"`
	EffectiveFrom  string `db:"effective_from"`
	ReleaseID      string `db:"release_id"`
	RowContentHash string `db:"row_content_hash"`
}

// ZCTACentroid contains a record from the `zcta_centroids` table. Source is
// "gazetteer" for Census Gazetteer centroids and "nber_fallback" for
// centroids backfilled from the NBER distance file.
type ZCTACentroid struct {
	ZCTA5   string  `db:"zcta5"`
	Lat     float64 `db:"lat"`
	Lon     float64 `db:"lon"`
	Source  string  `db:"source"`
	Vintage string  `db:"vintage"`
}

// ZipToZCTA contains a record from the `zip_to_zcta` crosswalk table.
type ZipToZCTA struct {
	ZIP5         string   `db:"zip5"`
	ZCTA5        string   `db:"zcta5"`
	Relationship string   `db:"relationship"`
	Weight       *float64 `db:"weight"`
	Vintage      string   `db:"vintage"`
}

// ZipMetadata contains a record from the `zip_metadata` table.
type ZipMetadata struct {
	ZIP5       string `db:"zip5"`
	State      string `db:"state"`
	Population *int64 `db:"population"`
	IsPOBox    bool   `db:"is_pobox"`
}

// NBERDistance contains a record from the `nber_distances` table. Pairs are
// stored once with zcta5_a < zcta5_b; lookups must normalize the order.
type NBERDistance struct {
	ZCTA5A        string  `db:"zcta5_a"`
	ZCTA5B        string  `db:"zcta5_b"`
	DistanceMiles float64 `db:"distance_miles"`
}

// Alert contains a record from the `alerts` table.
type Alert struct {
	ID          int64      `db:"id"`
	RuleName    string     `db:"rule_name"`
	AlertType   string     `db:"alert_type"`
	Severity    string     `db:"severity"`
	DatasetName string     `db:"dataset_name"`
	Message     string     `db:"message"`
	FiredAt     time.Time  `db:"fired_at"`
	ResolvedAt  *time.Time `db:"resolved_at"`
	ContextJSON string     `db:"context_json"`
}

// ResolverTrace contains a record from the `resolver_traces` table, one per
// nearest-ZIP resolution.
type ResolverTrace struct {
	ID             int64     `db:"id"`
	InputZip       string    `db:"input_zip"`
	NormalizedZip5 string    `db:"normalized_zip5"`
	MatchPath      string    `db:"match_path"`
	NearestZip     string    `db:"nearest_zip"`
	DistanceMiles  float64   `db:"distance_miles"`
	FlagsJSON      string    `db:"flags_json"`
	StepsJSON      string    `db:"steps_json"`
	ResolvedAt     time.Time `db:"resolved_at"`
}

func initGorp(db *gorp.DbMap) {
	db.AddTableWithName(IngestionRun{}, "ingestion_runs").SetKeys(false, "batch_id")
	db.AddTableWithName(ZIP5Locality{}, "zip5_locality").SetKeys(false, "zip5", "effective_from")
	db.AddTableWithName(ZIP9Override{}, "zip9_overrides").SetKeys(false, "zip9_low", "zip9_high", "effective_from")
	db.AddTableWithName(ZCTACentroid{}, "zcta_centroids").SetKeys(false, "zcta5", "source")
	db.AddTableWithName(ZipToZCTA{}, "zip_to_zcta").SetKeys(false, "zip5", "zcta5")
	db.AddTableWithName(ZipMetadata{}, "zip_metadata").SetKeys(false, "zip5")
	db.AddTableWithName(NBERDistance{}, "nber_distances").SetKeys(false, "zcta5_a", "zcta5_b")
	db.AddTableWithName(Alert{}, "alerts").SetKeys(true, "id")
	db.AddTableWithName(ResolverTrace{}, "resolver_traces").SetKeys(true, "id")
}
