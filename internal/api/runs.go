// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
)

// GetRun handles GET /v1/runs/:batch_id.
func (p *v1Provider) GetRun(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/runs/:batch_id")
	batchID := mux.Vars(r)["batch_id"]

	run, err := p.Runs.GetRunMetadata(batchID)
	if err != nil {
		if strings.Contains(err.Error(), "no such ingestion run") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		respondwith.ErrorText(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"run": run})
}

// ListRuns handles GET /v1/runs. Query parameters: limit, dataset.
func (p *v1Provider) ListRuns(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/runs")

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	dataset := r.URL.Query().Get("dataset")
	runs, err := listRuns(p, dataset, limit)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func listRuns(p *v1Provider, dataset string, limit int) (any, error) {
	if dataset == "" {
		return p.Runs.GetRecentRuns(limit)
	}
	return p.Runs.GetRecentRunsForDataset(dataset, limit)
}

// GetRunStatistics handles GET /v1/statistics. Query parameter: days
// (default 30).
func (p *v1Provider) GetRunStatistics(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/statistics")

	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	stats, err := p.Runs.GetRunStatistics(days)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"statistics": stats})
}
