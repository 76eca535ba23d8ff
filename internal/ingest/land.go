// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest contains the five-stage ingestion pipeline (Land, Validate,
// Normalize, Enrich, Publish), the run-metadata store and the batch
// orchestrator.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sapcc/go-bits/logg"
	"golang.org/x/sync/errgroup"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// fetch retry policy: 3 attempts total, starting at 1s and doubling
const (
	fetchMaxRetries      = 2
	fetchInitialInterval = 1 * time.Second
)

// LandedFile describes one raw artifact written to the raw tree.
type LandedFile struct {
	Source    core.SourceConfiguration `json:"source"`
	Path      string                   `json:"path"`
	SHA256    string                   `json:"sha256"`
	SizeBytes int64                    `json:"size_bytes"`
	FetchedAt time.Time                `json:"fetched_at"`
}

// Lander is the Land stage: it discovers and fetches the raw source
// artifacts of one release into <outputDir>/raw/<release_id>/, verifying
// digests and writing a manifest.
type Lander struct {
	OutputDir string
	Pipeline  core.PipelineConfiguration
	Client    *http.Client
	// TimeNow is usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

// NewLander builds a Lander with the configured HTTP timeout.
func NewLander(outputDir string, pipeline core.PipelineConfiguration) *Lander {
	return &Lander{
		OutputDir: outputDir,
		Pipeline:  pipeline,
		Client:    &http.Client{Timeout: pipeline.HTTPTimeout()},
		TimeNow:   time.Now,
	}
}

// Land fetches all sources of the release concurrently (bounded by
// fetch_parallelism) and writes the raw tree plus manifest.json. Any source
// failing fatally fails the whole stage.
func (l *Lander) Land(ctx context.Context, release core.ReleaseConfiguration) ([]LandedFile, error) {
	rawDir := filepath.Join(l.OutputDir, "raw", release.ReleaseID)
	if err := os.MkdirAll(filepath.Join(rawDir, "files"), 0o755); err != nil {
		return nil, fmt.Errorf("while creating raw directory: %w", err)
	}

	landed := make([]LandedFile, len(release.Sources))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(l.Pipeline.FetchParallelism)
	for idx, source := range release.Sources {
		group.Go(func() error {
			file, err := l.fetchOne(groupCtx, rawDir, source)
			if err != nil {
				return err
			}
			landed[idx] = file
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := l.writeManifest(rawDir, release, landed); err != nil {
		return nil, err
	}
	return landed, nil
}

// fetchOne downloads one source with retries. Only transport-class failures
// (network errors, timeouts, HTTP 5xx) are retried; HTTP 4xx is a fatal
// SourceError on first sight.
func (l *Lander) fetchOne(ctx context.Context, rawDir string, source core.SourceConfiguration) (LandedFile, error) {
	var body []byte
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, http.NoBody)
		if err != nil {
			return backoff.Permanent(core.SourceError{URL: source.URL, Reason: err.Error()})
		}
		resp, err := l.Client.Do(req)
		if err != nil {
			return core.TransportError{URL: source.URL, Inner: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return core.TransportError{URL: source.URL, StatusCode: resp.StatusCode}
		case resp.StatusCode >= 400:
			return backoff.Permanent(core.SourceError{URL: source.URL,
				Reason: fmt.Sprintf("HTTP status %d", resp.StatusCode)})
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return core.TransportError{URL: source.URL, Inner: err}
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = fetchInitialInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	err := backoff.Retry(fetch, backoff.WithContext(backoff.WithMaxRetries(policy, fetchMaxRetries), ctx))
	if err != nil {
		return LandedFile{}, err
	}

	digest := sha256.Sum256(body)
	digestHex := hex.EncodeToString(digest[:])
	if source.SHA256 != "" && source.SHA256 != digestHex {
		return LandedFile{}, core.SourceError{URL: source.URL,
			Reason: fmt.Sprintf("SHA-256 mismatch: expected %s, got %s", source.SHA256, digestHex)}
	}

	path := filepath.Join(rawDir, "files", source.Filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return LandedFile{}, fmt.Errorf("while writing %s: %w", path, err)
	}
	logg.Info("landed %s (%d bytes, sha256 %s)", source.Filename, len(body), digestHex[:12])

	return LandedFile{
		Source:    source,
		Path:      path,
		SHA256:    digestHex,
		SizeBytes: int64(len(body)),
		FetchedAt: l.TimeNow().UTC(),
	}, nil
}

type rawManifest struct {
	ReleaseID      string `json:"release_id"`
	VintageDate    string `json:"vintage_date,omitempty"`
	ProductYear    int    `json:"product_year"`
	DiscoveredFrom string `json:"discovered_from,omitempty"`
	// AttributionRequired is set when any source of the release requires it;
	// the per-source flag sits on the embedded source configurations.
	AttributionRequired bool         `json:"attribution_required"`
	WrittenAt           string       `json:"written_at"`
	Files               []LandedFile `json:"files"`
}

func (l *Lander) writeManifest(rawDir string, release core.ReleaseConfiguration, files []LandedFile) error {
	attribution := false
	for _, file := range files {
		attribution = attribution || file.Source.AttributionRequired
	}
	manifest := rawManifest{
		ReleaseID:           release.ReleaseID,
		VintageDate:         release.VintageDate,
		ProductYear:         release.ProductYear,
		DiscoveredFrom:      release.DiscoveredFrom,
		AttributionRequired: attribution,
		WrittenAt:           l.TimeNow().UTC().Format(time.RFC3339),
		Files:               files,
	}
	buf, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(rawDir, "manifest.json"), buf, 0o644)
}
