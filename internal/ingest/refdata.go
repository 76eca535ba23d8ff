// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// This file holds the CSV loaders for the static reference datasets that the
// Enrich stage seeds into the database: Census Gazetteer ZCTA centroids, the
// ZIP-to-ZCTA crosswalk, per-ZIP metadata (population, PO-box flag) and the
// NBER ZCTA-pair distance table.

func openReferenceCSV(referenceDir, name string, wantFields int) (*os.File, *csv.Reader, error) {
	path := filepath.Join(referenceDir, name)
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("while opening reference file: %w", err)
	}
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = wantFields
	// skip the header row
	if _, err := reader.Read(); err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("while reading header of %s: %w", path, err)
	}
	return file, reader, nil
}

// LoadZCTACentroids reads zcta_centroids.csv with header
// zcta5,lat,lon,source. Rows with source "gazetteer" and "nber_fallback" may
// coexist for the same ZCTA; the resolver prefers the gazetteer row.
func LoadZCTACentroids(referenceDir, vintage string) ([]db.ZCTACentroid, error) {
	file, reader, err := openReferenceCSV(referenceDir, "zcta_centroids.csv", 4)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []db.ZCTACentroid
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude for ZCTA %s: %w", record[0], err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude for ZCTA %s: %w", record[0], err)
		}
		source := strings.TrimSpace(record[3])
		if source == "" {
			source = "gazetteer"
		}
		rows = append(rows, db.ZCTACentroid{
			ZCTA5:   strings.TrimSpace(record[0]),
			Lat:     lat,
			Lon:     lon,
			Source:  source,
			Vintage: vintage,
		})
	}
	return rows, nil
}

// LoadZipToZCTA reads zip_to_zcta.csv with header
// zip5,zcta5,relationship,weight. An empty weight becomes NULL.
func LoadZipToZCTA(referenceDir, vintage string) ([]db.ZipToZCTA, error) {
	file, reader, err := openReferenceCSV(referenceDir, "zip_to_zcta.csv", 4)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []db.ZipToZCTA
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := db.ZipToZCTA{
			ZIP5:         strings.TrimSpace(record[0]),
			ZCTA5:        strings.TrimSpace(record[1]),
			Relationship: strings.TrimSpace(record[2]),
			Vintage:      vintage,
		}
		if weightStr := strings.TrimSpace(record[3]); weightStr != "" {
			weight, err := strconv.ParseFloat(weightStr, 64)
			if err != nil {
				return nil, fmt.Errorf("bad weight for ZIP %s: %w", row.ZIP5, err)
			}
			row.Weight = &weight
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadZipMetadata reads zip_metadata.csv with header
// zip5,state,population,is_pobox. Empty population becomes NULL; an empty
// PO-box flag is treated as false.
func LoadZipMetadata(referenceDir string) ([]db.ZipMetadata, error) {
	file, reader, err := openReferenceCSV(referenceDir, "zip_metadata.csv", 4)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []db.ZipMetadata
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := db.ZipMetadata{
			ZIP5:  strings.TrimSpace(record[0]),
			State: strings.TrimSpace(record[1]),
		}
		if popStr := strings.TrimSpace(record[2]); popStr != "" {
			pop, err := strconv.ParseInt(popStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad population for ZIP %s: %w", row.ZIP5, err)
			}
			row.Population = &pop
		}
		switch strings.ToLower(strings.TrimSpace(record[3])) {
		case "true", "1", "y":
			row.IsPOBox = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadNBERDistances reads nber_distances.csv with header
// zcta5_a,zcta5_b,miles. Pairs are normalized to zcta5_a < zcta5_b so that
// lookups are order-insensitive.
func LoadNBERDistances(referenceDir string) ([]db.NBERDistance, error) {
	file, reader, err := openReferenceCSV(referenceDir, "nber_distances.csv", 3)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []db.NBERDistance
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		a := strings.TrimSpace(record[0])
		b := strings.TrimSpace(record[1])
		if b < a {
			a, b = b, a
		}
		miles, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad distance for pair (%s, %s): %w", a, b, err)
		}
		rows = append(rows, db.NBERDistance{ZCTA5A: a, ZCTA5B: b, DistanceMiles: miles})
	}
	return rows, nil
}
