// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FIPSCounty is one county in the Census FIPS reference table.
type FIPSCounty struct {
	StateFIPS  string
	CountyFIPS string
	// Name is the canonical county name in upper case without the LSAD
	// suffix, e.g. "LOS ANGELES".
	Name string
	// LSAD is the legal/statistical area descriptor, e.g. "County",
	// "city", "Parish", "Borough".
	LSAD string
	// Aliases are alternate spellings, e.g. "ST. LOUIS" for "SAINT LOUIS".
	Aliases []string
}

// IsIndependentCity reports whether this entry is an independent city
// (LSAD "city"), which matters for the VA Richmond / MO St. Louis style
// tie-breaks.
func (c FIPSCounty) IsIndependentCity() bool {
	return strings.EqualFold(c.LSAD, "city")
}

// FIPSReference is the static county reference table for one Census
// vintage. It is derived once per vintage and read-only during ingestion.
type FIPSReference struct {
	Vintage  string
	counties []FIPSCounty
	byState  map[string][]FIPSCounty
}

// CountiesInState returns all counties of the given state FIPS code.
func (r *FIPSReference) CountiesInState(stateFIPS string) []FIPSCounty {
	return r.byState[stateFIPS]
}

// AllCounties returns the full table.
func (r *FIPSReference) AllCounties() []FIPSCounty {
	return r.counties
}

// NewFIPSReference builds the lookup structures for the given counties.
func NewFIPSReference(vintage string, counties []FIPSCounty) *FIPSReference {
	r := &FIPSReference{
		Vintage:  vintage,
		counties: counties,
		byState:  make(map[string][]FIPSCounty),
	}
	for _, county := range counties {
		r.byState[county.StateFIPS] = append(r.byState[county.StateFIPS], county)
	}
	return r
}

// LoadFIPSReference reads the county reference table from
// <referenceDir>/fips_counties.csv. Expected header:
// state_fips,county_fips,county_name,lsad,aliases
// where aliases is a |-separated list and may be empty.
func LoadFIPSReference(referenceDir, vintage string) (*FIPSReference, error) {
	path := filepath.Join(referenceDir, "fips_counties.csv")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening FIPS reference: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 5

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("while reading FIPS reference header: %w", err)
	}
	if strings.TrimSpace(header[0]) != "state_fips" {
		return nil, fmt.Errorf("unexpected FIPS reference header in %s: %v", path, header)
	}

	var counties []FIPSCounty
	for lineNo := 2; ; lineNo++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while reading FIPS reference line %d: %w", lineNo, err)
		}
		county := FIPSCounty{
			StateFIPS:  strings.TrimSpace(record[0]),
			CountyFIPS: strings.TrimSpace(record[1]),
			Name:       strings.ToUpper(strings.TrimSpace(record[2])),
			LSAD:       strings.TrimSpace(record[3]),
		}
		if aliases := strings.TrimSpace(record[4]); aliases != "" {
			for _, alias := range strings.Split(aliases, "|") {
				county.Aliases = append(county.Aliases, strings.ToUpper(strings.TrimSpace(alias)))
			}
		}
		counties = append(counties, county)
	}

	return NewFIPSReference(vintage, counties), nil
}
