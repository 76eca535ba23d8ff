// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

func dedupTestSchema(severity core.Severity) core.SchemaContract {
	return core.SchemaContract{
		Dataset:            "test_dataset",
		Version:            "1.0",
		Columns:            []core.ColumnSpec{{Name: "hcpcs"}, {Name: "modifier"}, {Name: "value"}},
		NaturalKeys:        []string{"hcpcs", "modifier"},
		ColumnOrder:        []string{"hcpcs", "modifier", "value"},
		NaturalKeySeverity: severity,
	}
}

func dedupTestFrame() Frame {
	frame := Frame{Columns: []string{"hcpcs", "modifier", "value"}}
	for idx, spec := range []struct{ hcpcs, modifier, value string }{
		{"99213", "", "a"},
		{"99214", "26", "b"},
		{"99213", "", "c"}, // dup of row 0
		{"99215", "", "d"},
		{"99213", "", "e"}, // dup of row 0
	} {
		row := NewRow(idx)
		row.Values["hcpcs"] = spec.hcpcs
		if spec.modifier != "" {
			row.Values["modifier"] = spec.modifier
		}
		row.Values["value"] = spec.value
		frame.Rows = append(frame.Rows, row)
	}
	return frame
}

func TestEnforceNaturalKeysWarn(t *testing.T) {
	frame := dedupTestFrame()
	var rejects RejectFrame

	dupCount, err := EnforceNaturalKeys(&frame, &rejects, dedupTestSchema(core.SeverityWarn), "rvu2025a")
	require.NoError(t, err)
	assert.Equal(t, 2, dupCount)

	// first occurrence wins, later occurrences move to rejects in order
	require.Len(t, frame.Rows, 3)
	assert.Equal(t, "a", frame.Rows[0].Values["value"])
	require.Len(t, rejects.Rows, 2)
	assert.Equal(t, "c", rejects.Rows[0].Row.Values["value"])
	assert.Equal(t, "e", rejects.Rows[1].Row.Values["value"])
	assert.Equal(t, NaturalKeyRuleID, rejects.Rows[0].RuleID)
	assert.Equal(t, core.SeverityWarn, rejects.Rows[0].Severity)
}

func TestEnforceNaturalKeysBlock(t *testing.T) {
	frame := dedupTestFrame()
	var rejects RejectFrame

	dupCount, err := EnforceNaturalKeys(&frame, &rejects, dedupTestSchema(core.SeverityBlock), "rvu2025a")
	assert.Equal(t, 2, dupCount)

	var dupErr core.DuplicateKeyError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "test_dataset_v1.0", dupErr.SchemaID)
	require.Len(t, dupErr.Keys, 1)
	assert.Equal(t, []string{"99213", ""}, dupErr.Keys[0])
}

func TestEnforceNaturalKeysInfo(t *testing.T) {
	frame := dedupTestFrame()
	var rejects RejectFrame

	dupCount, err := EnforceNaturalKeys(&frame, &rejects, dedupTestSchema(core.SeverityInfo), "rvu2025a")
	require.NoError(t, err)
	assert.Equal(t, 2, dupCount)
	// INFO keeps all rows (stage-1 locality depends on this)
	assert.Len(t, frame.Rows, 5)
	assert.Len(t, rejects.Rows, 0)
}

func TestEnforceNaturalKeysNoKeys(t *testing.T) {
	frame := dedupTestFrame()
	var rejects RejectFrame
	schema := dedupTestSchema(core.SeverityBlock)
	schema.NaturalKeys = nil

	dupCount, err := EnforceNaturalKeys(&frame, &rejects, schema, "rvu2025a")
	require.NoError(t, err)
	assert.Zero(t, dupCount)
	assert.Len(t, frame.Rows, 5)
}
