// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
)

// GetObservabilityReport handles GET /v1/observability/:dataset.
func (p *v1Provider) GetObservabilityReport(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/observability/:dataset")
	dataset := mux.Vars(r)["dataset"]

	report, err := p.Monitor.Report(dataset)
	if err != nil {
		http.Error(w, "no such dataset: "+dataset, http.StatusNotFound)
		return
	}
	alerts, err := p.Alerts.RecentAlerts(dataset, 20)
	if respondwith.ErrorText(w, err) {
		return
	}
	report.Alerts = alerts
	respondwith.JSON(w, http.StatusOK, report)
}

// ListAlerts handles GET /v1/alerts.
func (p *v1Provider) ListAlerts(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/alerts")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	alerts, err := p.Alerts.RecentAlerts(r.URL.Query().Get("dataset"), limit)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
