// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

var landTestNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func testPipelineCfg() core.PipelineConfiguration {
	return core.PipelineConfiguration{
		FetchParallelism:   2,
		ParseParallelism:   2,
		HTTPTimeoutSeconds: 5,
	}
}

func testLander(t *testing.T) *Lander {
	t.Helper()
	l := NewLander(t.TempDir(), testPipelineCfg())
	l.TimeNow = func() time.Time { return landTestNow }
	return l
}

func testRelease(serverURL string, sources ...core.SourceConfiguration) core.ReleaseConfiguration {
	for idx := range sources {
		sources[idx].URL = serverURL + "/" + sources[idx].Filename
	}
	return core.ReleaseConfiguration{
		ReleaseID:      "rvu2025a",
		VintageDate:    "2025-01-01",
		ProductYear:    2025,
		QuarterVintage: "2025Q1",
		DiscoveredFrom: "https://www.cms.gov/medicare/payment/fee-schedules/physician",
		Sources:        sources,
	}
}

func TestLand(t *testing.T) {
	bodies := map[string]string{
		"/gpci.txt": "GPCI FILE CONTENT\n",
		"/cf.csv":   "cf_type,cf_value\nphysician,32.3465\n",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, exists := bodies[r.URL.Path]
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	l := testLander(t)
	release := testRelease(server.URL,
		core.SourceConfiguration{Filename: "gpci.txt", Dataset: "cms_gpci", ContentType: "text/plain",
			License: "CMS public use", AttributionRequired: true},
		core.SourceConfiguration{Filename: "cf.csv", Dataset: "cms_conversion_factor", ContentType: "text/csv"},
	)

	landed, err := l.Land(t.Context(), release)
	require.NoError(t, err)
	require.Len(t, landed, 2)

	// results keep source order regardless of fetch order
	assert.Equal(t, "gpci.txt", landed[0].Source.Filename)
	assert.Equal(t, "cf.csv", landed[1].Source.Filename)

	for idx, file := range landed {
		buf, err := os.ReadFile(file.Path)
		require.NoError(t, err)
		body := bodies["/"+release.Sources[idx].Filename]
		assert.Equal(t, body, string(buf))

		digest := sha256.Sum256([]byte(body))
		assert.Equal(t, hex.EncodeToString(digest[:]), file.SHA256)
		assert.Equal(t, int64(len(body)), file.SizeBytes)
		assert.Equal(t, landTestNow, file.FetchedAt)
		assert.Equal(t, filepath.Join(l.OutputDir, "raw", "rvu2025a", "files", file.Source.Filename), file.Path)
	}

	buf, err := os.ReadFile(filepath.Join(l.OutputDir, "raw", "rvu2025a", "manifest.json"))
	require.NoError(t, err)
	var manifest rawManifest
	require.NoError(t, json.Unmarshal(buf, &manifest))
	assert.Equal(t, "rvu2025a", manifest.ReleaseID)
	assert.Equal(t, 2025, manifest.ProductYear)
	assert.Equal(t, "https://www.cms.gov/medicare/payment/fee-schedules/physician", manifest.DiscoveredFrom)
	assert.True(t, manifest.AttributionRequired)
	require.Len(t, manifest.Files, 2)
	assert.Equal(t, "CMS public use", manifest.Files[0].Source.License)
	assert.True(t, manifest.Files[0].Source.AttributionRequired)
	assert.False(t, manifest.Files[1].Source.AttributionRequired)
}

func TestLandRetriesServerErrors(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	l := testLander(t)
	release := testRelease(server.URL,
		core.SourceConfiguration{Filename: "gpci.txt", Dataset: "cms_gpci"})

	landed, err := l.Land(t.Context(), release)
	require.NoError(t, err)
	require.Len(t, landed, 1)
	assert.Equal(t, int64(2), requests.Load())

	buf, err := os.ReadFile(landed[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}

func TestLandClientErrorIsFatal(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	l := testLander(t)
	release := testRelease(server.URL,
		core.SourceConfiguration{Filename: "gpci.txt", Dataset: "cms_gpci"})

	_, err := l.Land(t.Context(), release)
	require.Error(t, err)

	var sourceErr core.SourceError
	require.True(t, errors.As(err, &sourceErr))
	assert.Contains(t, sourceErr.Reason, "HTTP status 404")
	// HTTP 4xx is permanent: exactly one attempt
	assert.Equal(t, int64(1), requests.Load())
}

func TestLandDigestMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered content"))
	}))
	defer server.Close()

	l := testLander(t)
	release := testRelease(server.URL, core.SourceConfiguration{
		Filename: "gpci.txt",
		Dataset:  "cms_gpci",
		SHA256:   "0000000000000000000000000000000000000000000000000000000000000000",
	})

	_, err := l.Land(t.Context(), release)
	require.Error(t, err)

	var sourceErr core.SourceError
	require.True(t, errors.As(err, &sourceErr))
	assert.Contains(t, sourceErr.Reason, "SHA-256 mismatch")
}

func TestLandPinnedDigestAccepted(t *testing.T) {
	body := []byte("pinned content\n")
	digest := sha256.Sum256(body)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	l := testLander(t)
	release := testRelease(server.URL, core.SourceConfiguration{
		Filename: "gpci.txt",
		Dataset:  "cms_gpci",
		SHA256:   hex.EncodeToString(digest[:]),
	})

	landed, err := l.Land(t.Context(), release)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest[:]), landed[0].SHA256)
}
