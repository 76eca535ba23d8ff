// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/resolver"
)

// GetNearestZip handles GET /v1/nearest-zip. Query parameters: zip
// (required), use_nber, max_radius_miles, include_trace.
func (p *v1Provider) GetNearestZip(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/nearest-zip")
	query := r.URL.Query()

	zip := query.Get("zip")
	if zip == "" {
		http.Error(w, "missing query parameter: zip", http.StatusBadRequest)
		return
	}

	opts := resolver.Options{
		UseNBER:        p.Config.Resolver.UseNBER,
		MaxRadiusMiles: p.Config.Resolver.MaxRadiusMiles,
	}
	if value := query.Get("use_nber"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			http.Error(w, "invalid value for use_nber", http.StatusBadRequest)
			return
		}
		opts.UseNBER = parsed
	}
	if value := query.Get("max_radius_miles"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid value for max_radius_miles", http.StatusBadRequest)
			return
		}
		opts.MaxRadiusMiles = parsed
	}
	if value := query.Get("include_trace"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			http.Error(w, "invalid value for include_trace", http.StatusBadRequest)
			return
		}
		opts.IncludeTrace = parsed
	}

	result, err := p.Resolver.FindNearestZip(r.Context(), zip, opts)
	if err != nil {
		var resolveErr core.ResolverError
		if errors.As(err, &resolveErr) {
			status := http.StatusNotFound
			if resolveErr.Code == core.ResolveInvalidZip {
				status = http.StatusBadRequest
			}
			respondwith.JSON(w, status, map[string]any{
				"error": map[string]string{
					"code":    string(resolveErr.Code),
					"message": resolveErr.Message,
				},
			})
			return
		}
		respondwith.ErrorText(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, result)
}
