// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
)

func TestPublishDatasetWritesReadme(t *testing.T) {
	schemas, err := core.NewDefaultSchemaRegistry()
	require.NoError(t, err)
	schema, err := schemas.Get("cms_gpci")
	require.NoError(t, err)

	p := NewPublisher(t.TempDir())
	p.TimeNow = func() time.Time { return landTestNow }

	row := parsekit.NewRow(1)
	row.Values["mac"] = "10112"
	row.Values["locality_code"] = "00"
	result := parsekit.ParseResult{Data: parsekit.Frame{Rows: []parsekit.Row{row}}}

	count, err := p.PublishDataset(schema, "rvu2025a", result)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	curatedDir := filepath.Join(p.OutputDir, "curated", "cms_gpci", "rvu2025a")
	assert.FileExists(t, filepath.Join(curatedDir, "cms_gpci.parquet"))

	buf, err := os.ReadFile(filepath.Join(curatedDir, "README.md"))
	require.NoError(t, err)
	readme := string(buf)
	assert.Contains(t, readme, "# cms_gpci")
	assert.Contains(t, readme, "Release: rvu2025a")
	assert.Contains(t, readme, "Schema: "+schema.ID())
	assert.Contains(t, readme, "Published rows: 1")
	assert.Contains(t, readme, "Quarantined rows: 0")
	assert.Contains(t, readme, "License: CC0-1.0")
	assert.Contains(t, readme, "Attribution to CMS is required")
}
