// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

// This file declares the schema contracts for all CMS reference datasets that
// the pipeline publishes. Contracts are static; bump the minor version for
// additive changes and the major version for anything that changes hashing,
// natural keys or column meaning.

func floatPtr(x float64) *float64 { return &x }

// PPRRVUContract covers the physician fee schedule RVU file.
var PPRRVUContract = SchemaContract{
	Dataset:             "cms_pprrvu",
	Version:             "1.1",
	Description:         "CMS PPRRVU: relative value units per HCPCS code and modifier",
	Source:              "https://www.cms.gov/medicare/physician-fee-schedule",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "hcpcs", Type: TypeString, Pattern: `^[A-Z0-9]{5}$`},
		{Name: "modifier", Type: TypeString, Nullable: true},
		{Name: "description", Type: TypeString, Nullable: true},
		{Name: "status_code", Type: TypeString,
			Domain: []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "M", "N", "P", "R", "T", "X"}},
		{Name: "work_rvu", Type: TypeFloat, Nullable: true, Precision: 2, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(200)},
		{Name: "pe_rvu_nonfac", Type: TypeFloat, Nullable: true, Precision: 2, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(500)},
		{Name: "pe_rvu_fac", Type: TypeFloat, Nullable: true, Precision: 2, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(500)},
		{Name: "mp_rvu", Type: TypeFloat, Nullable: true, Precision: 2, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(200)},
		{Name: "na_indicator", Type: TypeString, Nullable: true},
		{Name: "global_days", Type: TypeString, Nullable: true,
			Domain: []string{"000", "010", "090", "XXX", "YYY", "ZZZ", "MMM", "PPP"}},
		{Name: "supervision_code", Type: TypeString, Nullable: true,
			Domain: []string{"01", "02", "03", "04", "05", "06", "21", "22", "66", "6A", "77", "7A", "09"}},
		{Name: "effective_from", Type: TypeDate},
		{Name: "effective_to", Type: TypeDate, Nullable: true},
	},
	NaturalKeys: []string{"hcpcs", "modifier", "effective_from"},
	ColumnOrder: []string{
		"hcpcs", "modifier", "description", "status_code",
		"work_rvu", "pe_rvu_nonfac", "pe_rvu_fac", "mp_rvu",
		"na_indicator", "global_days", "supervision_code",
		"effective_from", "effective_to",
	},
	MetadataExclusions:   MetadataColumns,
	NaturalKeySeverity:   SeverityBlock,
	CriticalColumns:      []string{"hcpcs", "status_code", "effective_from"},
	ExpectedCadenceHours: 24 * 95, // quarterly publication with slack
}

// GPCIContract covers the geographic practice cost indices per locality.
var GPCIContract = SchemaContract{
	Dataset:             "cms_gpci",
	Version:             "1.0",
	Description:         "CMS GPCI: geographic practice cost indices per Medicare locality",
	Source:              "https://www.cms.gov/medicare/physician-fee-schedule",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "mac", Type: TypeString},
		{Name: "locality_code", Type: TypeString, Pattern: `^\d{2}$`},
		{Name: "locality_name", Type: TypeString, Nullable: true},
		{Name: "work_gpci", Type: TypeFloat, Precision: 3, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(10), GuardMin: floatPtr(0.5), GuardMax: floatPtr(2.0)},
		{Name: "pe_gpci", Type: TypeFloat, Precision: 3, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(10)},
		{Name: "mp_gpci", Type: TypeFloat, Precision: 3, Rounding: RoundHalfUp,
			HardMin: floatPtr(0), HardMax: floatPtr(10)},
		{Name: "effective_from", Type: TypeDate},
		{Name: "effective_to", Type: TypeDate, Nullable: true},
	},
	NaturalKeys: []string{"locality_code", "effective_from"},
	ColumnOrder: []string{
		"mac", "locality_code", "locality_name",
		"work_gpci", "pe_gpci", "mp_gpci",
		"effective_from", "effective_to",
	},
	MetadataExclusions:   MetadataColumns,
	NaturalKeySeverity:   SeverityBlock,
	CriticalColumns:      []string{"locality_code", "work_gpci", "pe_gpci", "mp_gpci"},
	ExpectedCadenceHours: 24 * 95,
}

// ExpectedGPCILocalityCount is the number of Medicare localities that a full
// GPCI file is expected to carry. Deviation is a WARN, not a BLOCK.
const ExpectedGPCILocalityCount = 109

// ConversionFactorContract covers the physician and anesthesia conversion
// factors. Mid-year adjustments are first-class: multiple rows per year are
// distinguished by effective_from.
var ConversionFactorContract = SchemaContract{
	Dataset:             "cms_conversion_factor",
	Version:             "1.0",
	Description:         "CMS conversion factors (dollars per RVU), physician and anesthesia",
	Source:              "https://www.cms.gov/medicare/physician-fee-schedule",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "cf_type", Type: TypeString, Domain: []string{"physician", "anesthesia"}},
		{Name: "cf_value", Type: TypeFloat, Precision: 4, Rounding: RoundHalfUp,
			HardMin: floatPtr(0.0001), HardMax: floatPtr(200)},
		{Name: "effective_from", Type: TypeDate},
		{Name: "effective_to", Type: TypeDate, Nullable: true},
	},
	NaturalKeys:          []string{"cf_type", "effective_from"},
	ColumnOrder:          []string{"cf_type", "cf_value", "effective_from", "effective_to"},
	MetadataExclusions:   MetadataColumns,
	NaturalKeySeverity:   SeverityBlock,
	CriticalColumns:      []string{"cf_type", "cf_value", "effective_from"},
	ExpectedCadenceHours: 24 * 370,
}

// KnownConversionFactors lists CMS-published values. A parsed value deviating
// from a known value by more than ±0.01 emits a WARN.
var KnownConversionFactors = map[string]map[int]float64{
	"physician": {
		2024: 32.7442,
		2025: 32.3465,
	},
	"anesthesia": {
		2024: 20.4349,
		2025: 20.3178,
	},
}

// LocalityRawContract covers the stage-1, layout-faithful parse of the
// locality-to-county file (25LOCCO.txt). Duplicates are preserved here; the
// FIPS normalizer (stage 2) owns dedup and expansion.
var LocalityRawContract = SchemaContract{
	Dataset:             "cms_locality_raw",
	Version:             "1.0",
	Description:         "CMS locality/county crosswalk, layout-faithful stage-1 parse",
	Source:              "https://www.cms.gov/medicare/physician-fee-schedule",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "mac", Type: TypeString},
		{Name: "locality_code", Type: TypeString},
		{Name: "state_name", Type: TypeString},
		{Name: "fee_area", Type: TypeString, Nullable: true},
		{Name: "county_names", Type: TypeString, Nullable: true},
	},
	// natural key (mac, locality_code) is only logged at stage 1, not
	// enforced; severity INFO keeps duplicates in the data frame
	NaturalKeys:        []string{"mac", "locality_code"},
	ColumnOrder:        []string{"mac", "locality_code", "state_name", "fee_area", "county_names"},
	MetadataExclusions: MetadataColumns,
	NaturalKeySeverity: SeverityInfo,
	CriticalColumns:    []string{"mac", "locality_code", "state_name"},
}

// LocalityCountyContract covers the stage-2 output: one row per
// (mac, locality_code, state_fips, county_fips).
var LocalityCountyContract = SchemaContract{
	Dataset:             "cms_locality_county",
	Version:             "1.0",
	Description:         "CMS locality/county crosswalk, FIPS-expanded canonical form",
	Source:              "derived: cms_locality_raw + Census FIPS reference",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "mac", Type: TypeString},
		{Name: "locality_code", Type: TypeString},
		{Name: "state_fips", Type: TypeString, Pattern: `^\d{2}$`},
		{Name: "county_fips", Type: TypeString, Pattern: `^\d{3}$`},
		{Name: "county_name_canonical", Type: TypeString},
		{Name: "lsad", Type: TypeString, Nullable: true},
		{Name: "match_method", Type: TypeString,
			Domain: []string{"exact", "alias", "fuzzy", "expansion"}},
		{Name: "expansion_method", Type: TypeString,
			Domain: []string{"explicit_list", "all_counties", "all_counties_except", "rest_of_state"}},
	},
	NaturalKeys: []string{"state_fips", "county_fips", "mac", "locality_code"},
	ColumnOrder: []string{
		"mac", "locality_code", "state_fips", "county_fips",
		"county_name_canonical", "lsad", "match_method", "expansion_method",
	},
	MetadataExclusions: MetadataColumns,
	NaturalKeySeverity: SeverityBlock,
	CriticalColumns:    []string{"mac", "locality_code", "state_fips", "county_fips"},
}

// ZIP5LocalityContract covers the ZIP5-to-locality mapping parsed from the
// CMS ZIP archive.
var ZIP5LocalityContract = SchemaContract{
	Dataset:             "cms_zip5_locality",
	Version:             "1.0",
	Description:         "CMS ZIP5 to state/locality mapping",
	Source:              "https://www.cms.gov/medicare/payment/zip-code-files",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "zip5", Type: TypeString, Pattern: `^\d{5}$`},
		{Name: "state", Type: TypeString},
		{Name: "locality", Type: TypeString, Pattern: `^\d+$`},
		{Name: "carrier_mac", Type: TypeString, Nullable: true},
		{Name: "rural_flag", Type: TypeString, Nullable: true, Domain: []string{"R", "B"}, DomainSeverity: SeverityWarn},
		{Name: "effective_from", Type: TypeDate},
		{Name: "effective_to", Type: TypeDate, Nullable: true},
	},
	NaturalKeys: []string{"zip5", "effective_from"},
	ColumnOrder: []string{
		"zip5", "state", "locality", "carrier_mac", "rural_flag",
		"effective_from", "effective_to",
	},
	MetadataExclusions:   MetadataColumns,
	NaturalKeySeverity:   SeverityBlock,
	CriticalColumns:      []string{"zip5", "state", "locality"},
	ExpectedCadenceHours: 24 * 95,
}

// ZIP9OverrideContract covers the ZIP9 override ranges parsed from
// fixed-width lines in the same CMS archive.
var ZIP9OverrideContract = SchemaContract{
	Dataset:             "cms_zip9_overrides",
	Version:             "1.0",
	Description:         "CMS ZIP9 override ranges mapping to state/locality",
	Source:              "https://www.cms.gov/medicare/payment/zip-code-files",
	Classification:      "public",
	License:             "CC0-1.0",
	AttributionRequired: true,
	Columns: []ColumnSpec{
		{Name: "zip9_low", Type: TypeString, Pattern: `^\d{9}$`},
		{Name: "zip9_high", Type: TypeString, Pattern: `^\d{9}$`},
		{Name: "state", Type: TypeString},
		{Name: "locality", Type: TypeString, Pattern: `^\d+$`},
		{Name: "rural_flag", Type: TypeString, Nullable: true, Domain: []string{"R", "B"}, DomainSeverity: SeverityWarn},
		{Name: "effective_from", Type: TypeDate},
		{Name: "effective_to", Type: TypeDate, Nullable: true},
	},
	NaturalKeys: []string{"zip9_low", "effective_from"},
	ColumnOrder: []string{
		"zip9_low", "zip9_high", "state", "locality", "rural_flag",
		"effective_from", "effective_to",
	},
	MetadataExclusions:   MetadataColumns,
	NaturalKeySeverity:   SeverityBlock,
	CriticalColumns:      []string{"zip9_low", "zip9_high", "state", "locality"},
	ExpectedCadenceHours: 24 * 95,
}

// AllContracts lists every contract that NewDefaultSchemaRegistry registers.
var AllContracts = []SchemaContract{
	PPRRVUContract,
	GPCIContract,
	ConversionFactorContract,
	LocalityRawContract,
	LocalityCountyContract,
	ZIP5LocalityContract,
	ZIP9OverrideContract,
}

// NewDefaultSchemaRegistry registers all built-in contracts.
func NewDefaultSchemaRegistry() (*SchemaRegistry, error) {
	return NewSchemaRegistry(AllContracts...)
}
