// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

import "fmt"

// LayoutColumn describes one column of a fixed-width layout. Offsets are
// zero-based byte offsets into the line; End is exclusive.
type LayoutColumn struct {
	Name      string
	Start     int
	End       int
	Type      ColumnType
	Precision int
	Nullable  bool
}

// LayoutSpec describes a complete fixed-width file layout. Layouts are
// versioned as v<year>.<quarter>.<patch>; a change to any column width or
// position requires a new major (year) entry in the registry.
type LayoutSpec struct {
	Version string
	Columns []LayoutColumn
	// SkipLeadingRows is the number of header rows to skip. Some CMS files
	// vary; parsers may additionally skip dynamically until the first row
	// that fits the layout.
	SkipLeadingRows int
}

// MinLineLength is the shortest line that can still carry every non-nullable
// column of the layout.
func (l LayoutSpec) MinLineLength() int {
	maxEnd := 0
	for _, col := range l.Columns {
		if !col.Nullable && col.End > maxEnd {
			maxEnd = col.End
		}
	}
	return maxEnd
}

// LayoutRegistry maps (dataset, "year.quarter") to the LayoutSpec in force
// for that vintage.
type LayoutRegistry struct {
	layouts map[string]LayoutSpec
}

func layoutKey(dataset string, year, quarter int) string {
	return fmt.Sprintf("%s/%d.%d", dataset, year, quarter)
}

// Register adds a layout for the given dataset vintage.
func (r *LayoutRegistry) Register(dataset string, year, quarter int, layout LayoutSpec) {
	if r.layouts == nil {
		r.layouts = make(map[string]LayoutSpec)
	}
	r.layouts[layoutKey(dataset, year, quarter)] = layout
}

// Get returns the layout for the given dataset vintage, falling back to
// earlier quarters of the same year (CMS does not re-publish unchanged
// layouts every quarter).
func (r *LayoutRegistry) Get(dataset string, year, quarter int) (LayoutSpec, error) {
	for q := quarter; q >= 1; q-- {
		if layout, exists := r.layouts[layoutKey(dataset, year, q)]; exists {
			return layout, nil
		}
	}
	return LayoutSpec{}, fmt.Errorf("no layout registered for dataset %s vintage %d.%d", dataset, year, quarter)
}

// NewDefaultLayoutRegistry registers the built-in CMS fixed-width layouts.
func NewDefaultLayoutRegistry() *LayoutRegistry {
	r := &LayoutRegistry{}

	// GPCI: GPCI2025.txt, one row per locality
	r.Register("cms_gpci", 2025, 1, LayoutSpec{
		Version:         "v2025.1.0",
		SkipLeadingRows: 2,
		Columns: []LayoutColumn{
			{Name: "mac", Start: 0, End: 5, Type: TypeString},
			{Name: "locality_code", Start: 6, End: 8, Type: TypeString},
			{Name: "locality_name", Start: 9, End: 64, Type: TypeString, Nullable: true},
			{Name: "work_gpci", Start: 64, End: 72, Type: TypeFloat, Precision: 3},
			{Name: "pe_gpci", Start: 72, End: 80, Type: TypeFloat, Precision: 3},
			{Name: "mp_gpci", Start: 80, End: 88, Type: TypeFloat, Precision: 3},
		},
	})

	// PPRRVU: PPRRVU25.txt
	r.Register("cms_pprrvu", 2025, 1, LayoutSpec{
		Version:         "v2025.1.0",
		SkipLeadingRows: 10,
		Columns: []LayoutColumn{
			{Name: "hcpcs", Start: 0, End: 5, Type: TypeString},
			{Name: "modifier", Start: 5, End: 7, Type: TypeString, Nullable: true},
			{Name: "description", Start: 7, End: 57, Type: TypeString, Nullable: true},
			{Name: "status_code", Start: 57, End: 58, Type: TypeString},
			{Name: "work_rvu", Start: 61, End: 69, Type: TypeFloat, Precision: 2, Nullable: true},
			{Name: "pe_rvu_nonfac", Start: 69, End: 77, Type: TypeFloat, Precision: 2, Nullable: true},
			{Name: "na_indicator", Start: 77, End: 79, Type: TypeString, Nullable: true},
			{Name: "pe_rvu_fac", Start: 79, End: 87, Type: TypeFloat, Precision: 2, Nullable: true},
			{Name: "mp_rvu", Start: 89, End: 97, Type: TypeFloat, Precision: 2, Nullable: true},
			{Name: "global_days", Start: 101, End: 104, Type: TypeString, Nullable: true},
			{Name: "supervision_code", Start: 110, End: 112, Type: TypeString, Nullable: true},
		},
	})

	// Locality/county crosswalk: 25LOCCO.txt
	r.Register("cms_locality_raw", 2025, 1, LayoutSpec{
		Version:         "v2025.1.0",
		SkipLeadingRows: 3,
		Columns: []LayoutColumn{
			{Name: "mac", Start: 0, End: 5, Type: TypeString},
			{Name: "locality_code", Start: 9, End: 11, Type: TypeString},
			{Name: "state_name", Start: 14, End: 36, Type: TypeString, Nullable: true},
			{Name: "fee_area", Start: 36, End: 70, Type: TypeString, Nullable: true},
			{Name: "county_names", Start: 70, End: 200, Type: TypeString, Nullable: true},
		},
	})

	// Shared member layout of the CMS ZIP archive: ZIP5 base records and
	// ZIP9 override records live in the same file, told apart by
	// plus_four_flag. Both ZIP parsers read through this layout.
	r.Register("cms_zip9_overrides", 2025, 1, LayoutSpec{
		Version:         "v2025.1.0",
		SkipLeadingRows: 0,
		Columns: []LayoutColumn{
			{Name: "state", Start: 0, End: 2, Type: TypeString},
			{Name: "zip5", Start: 2, End: 7, Type: TypeString},
			{Name: "carrier", Start: 7, End: 12, Type: TypeString, Nullable: true},
			{Name: "locality", Start: 12, End: 14, Type: TypeString},
			{Name: "rural_flag", Start: 14, End: 15, Type: TypeString, Nullable: true},
			{Name: "plus_four_flag", Start: 20, End: 21, Type: TypeString},
			{Name: "plus_four", Start: 21, End: 25, Type: TypeString, Nullable: true},
			{Name: "plus_four_high", Start: 25, End: 29, Type: TypeString, Nullable: true},
		},
	})

	return r
}
