// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package db

var sqlMigrations = map[string]string{
	"001_initial.down.sql": `
		DROP TABLE resolver_traces;
		DROP TABLE alerts;
		DROP TABLE nber_distances;
		DROP TABLE zip_metadata;
		DROP TABLE zip_to_zcta;
		DROP TABLE zcta_centroids;
		DROP TABLE zip9_overrides;
		DROP TABLE zip5_locality;
		DROP INDEX ingestion_runs_dataset_idx;
		DROP INDEX ingestion_runs_status_idx;
		DROP TABLE ingestion_runs;
	`,
	"001_initial.up.sql": `
		---------- run metadata (append-only)

		CREATE TABLE ingestion_runs (
			batch_id             TEXT       NOT NULL PRIMARY KEY,
			dataset_name         TEXT       NOT NULL,
			release_id           TEXT       NOT NULL,
			vintage_date         TEXT       NOT NULL DEFAULT '',
			product_year         INTEGER    NOT NULL DEFAULT 0,
			source_url           TEXT       NOT NULL DEFAULT '',
			created_by           TEXT       NOT NULL DEFAULT '',
			started_at           TIMESTAMP  NOT NULL DEFAULT NOW(),
			finished_at          TIMESTAMP  DEFAULT NULL,
			status               TEXT       NOT NULL DEFAULT 'running',
			total_rows           BIGINT     NOT NULL DEFAULT 0,
			valid_rows           BIGINT     NOT NULL DEFAULT 0,
			reject_rows          BIGINT     NOT NULL DEFAULT 0,
			output_record_count  BIGINT     NOT NULL DEFAULT 0,
			quality_score        REAL       NOT NULL DEFAULT 0,
			schema_id            TEXT       NOT NULL DEFAULT '',
			error_message        TEXT       NOT NULL DEFAULT '',
			error_type           TEXT       NOT NULL DEFAULT '',
			processing_cost_usd  REAL       NOT NULL DEFAULT 0,
			source_files_json    TEXT       NOT NULL DEFAULT '[]',
			stage_timings_json   TEXT       NOT NULL DEFAULT '{}',
			validation_json      TEXT       NOT NULL DEFAULT '{}',
			lineage_json         TEXT       NOT NULL DEFAULT '{}',
			alerts_json          TEXT       NOT NULL DEFAULT '[]'
		);
		CREATE INDEX ingestion_runs_dataset_idx ON ingestion_runs (dataset_name, release_id, product_year, started_at);
		CREATE INDEX ingestion_runs_status_idx ON ingestion_runs (status, started_at);

		---------- curated geography tables

		CREATE TABLE zip5_locality (
			zip5             TEXT  NOT NULL,
			state            TEXT  NOT NULL,
			locality         TEXT  NOT NULL,
			carrier_mac      TEXT  NOT NULL DEFAULT '',
			rural_flag       TEXT  NOT NULL DEFAULT '',
			effective_from   TEXT  NOT NULL,
			release_id       TEXT  NOT NULL,
			row_content_hash TEXT  NOT NULL,
			PRIMARY KEY (zip5, effective_from)
		);

		CREATE TABLE zip9_overrides (
			zip9_low         TEXT  NOT NULL,
			zip9_high        TEXT  NOT NULL,
			state            TEXT  NOT NULL,
			locality         TEXT  NOT NULL,
			rural_flag       TEXT  NOT NULL DEFAULT '',
			effective_from   TEXT  NOT NULL,
			release_id       TEXT  NOT NULL,
			row_content_hash TEXT  NOT NULL,
			PRIMARY KEY (zip9_low, zip9_high, effective_from)
		);

		-- one row per (zcta5, source): the resolver prefers the gazetteer
		-- centroid and falls back to the NBER-derived one
		CREATE TABLE zcta_centroids (
			zcta5       TEXT              NOT NULL,
			lat         DOUBLE PRECISION  NOT NULL,
			lon         DOUBLE PRECISION  NOT NULL,
			source      TEXT              NOT NULL DEFAULT 'gazetteer',
			vintage     TEXT              NOT NULL DEFAULT '',
			PRIMARY KEY (zcta5, source)
		);

		-- a ZIP can straddle several ZCTAs; the resolver picks the row whose
		-- relationship is "Zip matches ZCTA", else the highest weight
		CREATE TABLE zip_to_zcta (
			zip5          TEXT  NOT NULL,
			zcta5         TEXT  NOT NULL,
			relationship  TEXT  NOT NULL DEFAULT '',
			weight        REAL  DEFAULT NULL,
			vintage       TEXT  NOT NULL DEFAULT '',
			PRIMARY KEY (zip5, zcta5)
		);

		CREATE TABLE zip_metadata (
			zip5         TEXT     NOT NULL PRIMARY KEY,
			state        TEXT     NOT NULL DEFAULT '',
			population   BIGINT   DEFAULT NULL,
			is_pobox     BOOLEAN  NOT NULL DEFAULT FALSE
		);

		CREATE TABLE nber_distances (
			zcta5_a        TEXT              NOT NULL,
			zcta5_b        TEXT              NOT NULL,
			distance_miles DOUBLE PRECISION  NOT NULL,
			PRIMARY KEY (zcta5_a, zcta5_b)
		);

		---------- operational records

		CREATE TABLE alerts (
			id           BIGSERIAL  NOT NULL PRIMARY KEY,
			rule_name    TEXT       NOT NULL,
			alert_type   TEXT       NOT NULL,
			severity     TEXT       NOT NULL,
			dataset_name TEXT       NOT NULL DEFAULT '',
			message      TEXT       NOT NULL,
			fired_at     TIMESTAMP  NOT NULL DEFAULT NOW(),
			resolved_at  TIMESTAMP  DEFAULT NULL,
			context_json TEXT       NOT NULL DEFAULT '{}'
		);

		CREATE TABLE resolver_traces (
			id              BIGSERIAL  NOT NULL PRIMARY KEY,
			input_zip       TEXT       NOT NULL,
			normalized_zip5 TEXT       NOT NULL,
			match_path      TEXT       NOT NULL,
			nearest_zip     TEXT       NOT NULL DEFAULT '',
			distance_miles  DOUBLE PRECISION NOT NULL DEFAULT 0,
			flags_json      TEXT       NOT NULL DEFAULT '[]',
			steps_json      TEXT       NOT NULL DEFAULT '[]',
			resolved_at     TIMESTAMP  NOT NULL DEFAULT NOW()
		);
	`,
}
