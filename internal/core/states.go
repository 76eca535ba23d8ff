// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

import "strings"

// StateInfo identifies one US state or territory in both postal and FIPS
// form.
type StateInfo struct {
	Postal    string
	FIPS      string
	FullName  string
}

// usStates lists the 50 states plus DC and the territories that appear in
// CMS locality files.
var usStates = []StateInfo{
	{"AL", "01", "ALABAMA"},
	{"AK", "02", "ALASKA"},
	{"AZ", "04", "ARIZONA"},
	{"AR", "05", "ARKANSAS"},
	{"CA", "06", "CALIFORNIA"},
	{"CO", "08", "COLORADO"},
	{"CT", "09", "CONNECTICUT"},
	{"DE", "10", "DELAWARE"},
	{"DC", "11", "DISTRICT OF COLUMBIA"},
	{"FL", "12", "FLORIDA"},
	{"GA", "13", "GEORGIA"},
	{"HI", "15", "HAWAII"},
	{"ID", "16", "IDAHO"},
	{"IL", "17", "ILLINOIS"},
	{"IN", "18", "INDIANA"},
	{"IA", "19", "IOWA"},
	{"KS", "20", "KANSAS"},
	{"KY", "21", "KENTUCKY"},
	{"LA", "22", "LOUISIANA"},
	{"ME", "23", "MAINE"},
	{"MD", "24", "MARYLAND"},
	{"MA", "25", "MASSACHUSETTS"},
	{"MI", "26", "MICHIGAN"},
	{"MN", "27", "MINNESOTA"},
	{"MS", "28", "MISSISSIPPI"},
	{"MO", "29", "MISSOURI"},
	{"MT", "30", "MONTANA"},
	{"NE", "31", "NEBRASKA"},
	{"NV", "32", "NEVADA"},
	{"NH", "33", "NEW HAMPSHIRE"},
	{"NJ", "34", "NEW JERSEY"},
	{"NM", "35", "NEW MEXICO"},
	{"NY", "36", "NEW YORK"},
	{"NC", "37", "NORTH CAROLINA"},
	{"ND", "38", "NORTH DAKOTA"},
	{"OH", "39", "OHIO"},
	{"OK", "40", "OKLAHOMA"},
	{"OR", "41", "OREGON"},
	{"PA", "42", "PENNSYLVANIA"},
	{"RI", "44", "RHODE ISLAND"},
	{"SC", "45", "SOUTH CAROLINA"},
	{"SD", "46", "SOUTH DAKOTA"},
	{"TN", "47", "TENNESSEE"},
	{"TX", "48", "TEXAS"},
	{"UT", "49", "UTAH"},
	{"VT", "50", "VERMONT"},
	{"VA", "51", "VIRGINIA"},
	{"WA", "53", "WASHINGTON"},
	{"WV", "54", "WEST VIRGINIA"},
	{"WI", "55", "WISCONSIN"},
	{"WY", "56", "WYOMING"},
	{"AS", "60", "AMERICAN SAMOA"},
	{"GU", "66", "GUAM"},
	{"MP", "69", "NORTHERN MARIANA ISLANDS"},
	{"PR", "72", "PUERTO RICO"},
	{"VI", "78", "VIRGIN ISLANDS"},
}

// stateNameAliases maps spellings seen in CMS locality files to the
// canonical full name.
var stateNameAliases = map[string]string{
	"WASHINGTON DC":    "DISTRICT OF COLUMBIA",
	"D.C.":             "DISTRICT OF COLUMBIA",
	"VIRGIN ISLANDS":   "VIRGIN ISLANDS",
	"U.S. VIRGIN ISLANDS": "VIRGIN ISLANDS",
	"N. MARIANA ISLANDS":  "NORTHERN MARIANA ISLANDS",
}

var (
	statesByName   map[string]StateInfo
	statesByPostal map[string]StateInfo
)

func init() {
	statesByName = make(map[string]StateInfo, len(usStates))
	statesByPostal = make(map[string]StateInfo, len(usStates))
	for _, st := range usStates {
		statesByName[st.FullName] = st
		statesByPostal[st.Postal] = st
	}
}

func normalizeStateName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	if alias, exists := stateNameAliases[name]; exists {
		return alias
	}
	return name
}

// StateByName resolves a state name as it appears in CMS files
// (case/whitespace insensitive, alias aware).
func StateByName(name string) (StateInfo, bool) {
	st, exists := statesByName[normalizeStateName(name)]
	return st, exists
}

// StateByPostal resolves a two-letter postal code.
func StateByPostal(postal string) (StateInfo, bool) {
	st, exists := statesByPostal[strings.ToUpper(strings.TrimSpace(postal))]
	return st, exists
}

// IsUSPostalCode reports whether the given value is one of the 50 states,
// DC, or the CMS-relevant territories (PR, VI, AS, GU, MP).
func IsUSPostalCode(postal string) bool {
	_, exists := StateByPostal(postal)
	return exists
}
