// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

// Package api provides the operational HTTP surface: dataset health reports,
// run metadata and the nearest-ZIP resolver endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/ingest"
	"github.com/alex-bea/cms-api-sub001/internal/observe"
	"github.com/alex-bea/cms-api-sub001/internal/resolver"
)

// VersionData is used by the version advertisement handler on "GET /".
type VersionData struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

type v1Provider struct {
	Config   core.Configuration
	Monitor  *observe.Monitor
	Alerts   observe.AlertStore
	Resolver *resolver.Resolver
	Runs     *ingest.RunStore
	// slots for test doubles
	timeNow func() time.Time
}

// NewV1API creates an httpapi.API that serves the v1 API.
func NewV1API(cfg core.Configuration, monitor *observe.Monitor, alerts observe.AlertStore, res *resolver.Resolver, runs *ingest.RunStore) httpapi.API {
	return &v1Provider{
		Config:   cfg,
		Monitor:  monitor,
		Alerts:   alerts,
		Resolver: res,
		Runs:     runs,
		timeNow:  time.Now,
	}
}

// AddTo implements the httpapi.API interface.
func (p *v1Provider) AddTo(r *mux.Router) {
	r.Methods("HEAD", "GET").Path("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.IdentifyEndpoint(r, "/")
		httpapi.SkipRequestLog(r)
		respondwith.JSON(w, http.StatusOK, map[string]any{
			"versions": []VersionData{{Status: "CURRENT", ID: "v1"}},
		})
	})

	r.Methods("GET").Path("/v1/observability/{dataset}").HandlerFunc(p.GetObservabilityReport)
	r.Methods("GET").Path("/v1/alerts").HandlerFunc(p.ListAlerts)

	r.Methods("GET").Path("/v1/nearest-zip").HandlerFunc(p.GetNearestZip)

	r.Methods("GET").Path("/v1/runs").HandlerFunc(p.ListRuns)
	r.Methods("GET").Path("/v1/runs/{batch_id}").HandlerFunc(p.GetRun)
	r.Methods("GET").Path("/v1/statistics").HandlerFunc(p.GetRunStatistics)
}
