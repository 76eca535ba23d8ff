// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// NaturalKeyRuleID is the validation rule id attached to duplicate-key
// rejects at WARN severity.
const NaturalKeyRuleID = "NATURAL_KEY_UNIQUE"

// EnforceNaturalKeys groups rows by the schema's natural key.
//
// With severity BLOCK it returns a DuplicateKeyError carrying up to
// core.MaxReportedDuplicateKeys duplicate key tuples. With severity WARN it
// splits the frame into a unique frame (first occurrence wins) and moves all
// later occurrences into the reject frame, ordered deterministically
// (lexicographic by natural key, then by original position). With severity
// INFO duplicates are only counted, not moved.
//
// The returned int is the number of duplicate rows observed.
func EnforceNaturalKeys(frame *Frame, rejects *RejectFrame, schema core.SchemaContract, releaseID string) (int, error) {
	if len(schema.NaturalKeys) == 0 {
		return 0, nil
	}

	type dupGroup struct {
		key  []string
		rows []Row
	}
	firstSeen := make(map[string]bool)
	var (
		kept      []Row
		dupGroups = make(map[string]*dupGroup)
	)
	for _, row := range frame.Rows {
		tuple := KeyTuple(row, schema.NaturalKeys)
		key := strings.Join(tuple, hashSeparator)
		if !firstSeen[key] {
			firstSeen[key] = true
			kept = append(kept, row)
			continue
		}
		group, exists := dupGroups[key]
		if !exists {
			group = &dupGroup{key: tuple}
			dupGroups[key] = group
		}
		group.rows = append(group.rows, row)
	}

	dupCount := 0
	for _, group := range dupGroups {
		dupCount += len(group.rows)
	}
	if dupCount == 0 {
		return 0, nil
	}

	// deterministic order: lexicographic by natural key, then by position
	groupKeys := make([]string, 0, len(dupGroups))
	for key := range dupGroups {
		groupKeys = append(groupKeys, key)
	}
	sort.Strings(groupKeys)

	switch schema.NaturalKeySeverity {
	case core.SeverityBlock:
		var evidence [][]string
		for _, key := range groupKeys {
			if len(evidence) >= core.MaxReportedDuplicateKeys {
				break
			}
			evidence = append(evidence, dupGroups[key].key)
		}
		return dupCount, core.DuplicateKeyError{SchemaID: schema.ID(), Keys: evidence}

	case core.SeverityWarn:
		frame.Rows = kept
		for _, key := range groupKeys {
			group := dupGroups[key]
			sort.Slice(group.rows, func(i, j int) bool { return group.rows[i].Pos < group.rows[j].Pos })
			for _, row := range group.rows {
				rejects.Add(row, NaturalKeyRuleID, core.SeverityWarn,
					fmt.Sprintf("duplicate natural key %v", group.key), schema.ID(), releaseID)
			}
		}
		return dupCount, nil

	default:
		// INFO: duplicates are preserved in the data frame (stage-1 locality
		// relies on this) and only surfaced through metrics
		return dupCount, nil
	}
}
