// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"os"
	"time"

	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/logg"
	yaml "gopkg.in/yaml.v2"
)

// Configuration is the top-level YAML configuration document.
type Configuration struct {
	OutputDir    string                  `yaml:"output_dir"`
	ReferenceDir string                  `yaml:"reference_dir"`
	Releases     []ReleaseConfiguration  `yaml:"releases"`
	Pipeline     PipelineConfiguration   `yaml:"pipeline"`
	Resolver     ResolverConfiguration   `yaml:"resolver"`
	API          APIConfiguration        `yaml:"api"`
	Alerting     AlertRuleConfigurations `yaml:"alerting"`
}

// ReleaseConfiguration names one upstream CMS release and the source bundles
// to discover for it.
type ReleaseConfiguration struct {
	ReleaseID      string `yaml:"release_id"`
	VintageDate    string `yaml:"vintage_date"` // ISO date
	ProductYear    int    `yaml:"product_year"`
	QuarterVintage string `yaml:"quarter_vintage"` // e.g. "2025Q1"
	// DiscoveredFrom is the CMS page the source URLs were discovered on.
	DiscoveredFrom string                `yaml:"discovered_from"`
	Sources        []SourceConfiguration `yaml:"sources"`
}

// SourceConfiguration names one upstream artifact of a release. The json tags
// matter: landed files embed this struct in manifest.json and in the run
// record's source_files_json, where the observability pillars read it back.
type SourceConfiguration struct {
	URL         string `yaml:"url" json:"url"`
	Filename    string `yaml:"filename" json:"filename"`
	ContentType string `yaml:"content_type" json:"content_type"`
	Dataset     string `yaml:"dataset" json:"dataset"`
	// SHA256, if known in advance, is verified after fetch at BLOCK severity.
	SHA256              string `yaml:"sha256" json:"sha256,omitempty"`
	License             string `yaml:"license" json:"license,omitempty"`
	AttributionRequired bool   `yaml:"attribution_required" json:"attribution_required"`
}

// PipelineConfiguration holds the pipeline-wide tunables.
type PipelineConfiguration struct {
	MaxProcessingTimeHours float64 `yaml:"max_processing_time_hours"`
	FetchParallelism       int     `yaml:"fetch_parallelism"`
	ParseParallelism       int     `yaml:"parse_parallelism"`
	HTTPTimeoutSeconds     int     `yaml:"http_timeout_seconds"`
	UseFuzzyCountyMatch    bool    `yaml:"use_fuzzy_county_match"`
	FuzzyMatchThreshold    float64 `yaml:"fuzzy_match_threshold"`
}

// ResolverConfiguration holds the nearest-ZIP resolver tunables.
type ResolverConfiguration struct {
	UseNBER         bool    `yaml:"use_nber"`
	MaxRadiusMiles  float64 `yaml:"max_radius_miles"`
	PersistTraces   bool    `yaml:"persist_traces"`
	CentroidVintage string  `yaml:"centroid_vintage"`
}

// APIConfiguration holds the operational HTTP surface settings.
type APIConfiguration struct {
	ListenAddress        string `yaml:"listen_address"`
	MetricsListenAddress string `yaml:"metrics_listen_address"`
}

// AlertRuleConfigurations holds the alert engine settings.
type AlertRuleConfigurations struct {
	CooldownMinutes  int     `yaml:"cooldown_minutes"`
	RecentRunWindow  int     `yaml:"recent_run_window"`
	MaxErrorsPerRun  int     `yaml:"max_errors_per_run"`
	StaleAfterHours  float64 `yaml:"stale_after_hours"`
	MaxAnomalyCount  int     `yaml:"max_anomaly_count"`
	VolumeTolerance  float64 `yaml:"volume_tolerance"`
	FreshnessGraceHr float64 `yaml:"freshness_grace_hours"`
}

// MaxProcessingTime returns the absolute per-batch time budget.
func (c PipelineConfiguration) MaxProcessingTime() time.Duration {
	hours := c.MaxProcessingTimeHours
	if hours <= 0 {
		hours = 2.0
	}
	return time.Duration(hours * float64(time.Hour))
}

// HTTPTimeout returns the per-request timeout for source fetches.
func (c PipelineConfiguration) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// NewConfiguration reads and validates the configuration file at the given
// path. Validation errors are logged and terminate the program.
func NewConfiguration(path string) (cfg Configuration) {
	buf, err := os.ReadFile(path)
	if err != nil {
		logg.Fatal("while reading configuration file: %s", err.Error())
	}
	err = yaml.UnmarshalStrict(buf, &cfg)
	if err != nil {
		logg.Fatal("while parsing configuration file: %s", err.Error())
	}

	errs := cfg.validate()
	for _, err := range errs {
		logg.Error(err.Error())
	}
	if !errs.IsEmpty() {
		logg.Fatal("configuration file %s is invalid", path)
	}

	cfg.applyDefaults()
	return cfg
}

func (c *Configuration) validate() (errs errext.ErrorSet) {
	if c.OutputDir == "" {
		errs.Addf("missing configuration value: output_dir")
	}
	if c.ReferenceDir == "" {
		errs.Addf("missing configuration value: reference_dir")
	}
	seen := make(map[string]bool)
	for _, release := range c.Releases {
		if release.ReleaseID == "" {
			errs.Addf("release without release_id")
			continue
		}
		if seen[release.ReleaseID] {
			errs.Addf("duplicate release_id: %s", release.ReleaseID)
		}
		seen[release.ReleaseID] = true
		if release.ProductYear == 0 {
			errs.Addf("release %s: missing product_year", release.ReleaseID)
		}
		for _, src := range release.Sources {
			if src.URL == "" || src.Filename == "" || src.Dataset == "" {
				errs.Addf("release %s: each source needs url, filename and dataset", release.ReleaseID)
			}
		}
	}
	return errs
}

func (c *Configuration) applyDefaults() {
	if c.Pipeline.FetchParallelism <= 0 {
		c.Pipeline.FetchParallelism = 4
	}
	if c.Pipeline.ParseParallelism <= 0 {
		c.Pipeline.ParseParallelism = 4
	}
	if c.Pipeline.FuzzyMatchThreshold <= 0 {
		c.Pipeline.FuzzyMatchThreshold = 0.92
	}
	if c.Resolver.MaxRadiusMiles <= 0 {
		c.Resolver.MaxRadiusMiles = 100
	}
	if c.Alerting.CooldownMinutes <= 0 {
		c.Alerting.CooldownMinutes = 60
	}
	if c.Alerting.RecentRunWindow <= 0 {
		c.Alerting.RecentRunWindow = 10
	}
	if c.Alerting.MaxErrorsPerRun <= 0 {
		c.Alerting.MaxErrorsPerRun = 100
	}
	if c.Alerting.StaleAfterHours <= 0 {
		c.Alerting.StaleAfterHours = 24
	}
	if c.Alerting.MaxAnomalyCount <= 0 {
		c.Alerting.MaxAnomalyCount = 50
	}
	if c.Alerting.VolumeTolerance <= 0 {
		c.Alerting.VolumeTolerance = 0.15
	}
	if c.Alerting.FreshnessGraceHr <= 0 {
		c.Alerting.FreshnessGraceHr = 72
	}
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}
	if c.API.MetricsListenAddress == "" {
		c.API.MetricsListenAddress = ":9188"
	}
}

// FindRelease returns the configuration for the given release_id.
func (c Configuration) FindRelease(releaseID string) (ReleaseConfiguration, bool) {
	for _, release := range c.Releases {
		if release.ReleaseID == releaseID {
			return release, true
		}
	}
	return ReleaseConfiguration{}, false
}
