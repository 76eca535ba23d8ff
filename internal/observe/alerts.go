// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/db"
)

// Alert severities and types as stored in the alerts table.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"

	AlertTypeRunFailure  = "run_failure"
	AlertTypeDataQuality = "data_quality"
	AlertTypeFreshness   = "freshness"
	AlertTypeAnomaly     = "anomaly"
)

// EvalContext is the input of one rule evaluation pass.
type EvalContext struct {
	Dataset    string
	RecentRuns []db.IngestionRun
	Report     HealthReport
	Now        time.Time
	Cfg        core.AlertRuleConfigurations
}

// Rule is a declarative alert predicate. Check returns whether the rule fires
// and, if so, the alert message.
type Rule struct {
	Name      string
	AlertType string
	Severity  string
	Check     func(ctx EvalContext) (fired bool, message string, metadata map[string]any)
}

// AlertStore persists fired alerts and answers cooldown queries. Implemented
// by DBAlertStore; tests use an in-memory fake.
type AlertStore interface {
	// HasUnresolvedSince reports whether the rule already has an unresolved
	// alert fired after the given time.
	HasUnresolvedSince(ruleName string, since time.Time) (bool, error)
	Save(alert db.Alert) error
	RecentAlerts(dataset string, limit int) ([]db.Alert, error)
	Resolve(alertID int64, at time.Time) error
}

// DBAlertStore implements AlertStore over the alerts table.
type DBAlertStore struct {
	DB *gorp.DbMap
}

var unresolvedAlertQuery = sqlext.SimplifyWhitespace(`
	SELECT id FROM alerts
	 WHERE rule_name = $1 AND resolved_at IS NULL AND fired_at >= $2
	 LIMIT 1
`)

// HasUnresolvedSince implements the AlertStore interface.
func (s DBAlertStore) HasUnresolvedSince(ruleName string, since time.Time) (bool, error) {
	var id int64
	err := s.DB.SelectOne(&id, unresolvedAlertQuery, ruleName, since)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Save implements the AlertStore interface.
func (s DBAlertStore) Save(alert db.Alert) error {
	return s.DB.Insert(&alert)
}

// RecentAlerts implements the AlertStore interface. An empty dataset name
// returns alerts across all datasets.
func (s DBAlertStore) RecentAlerts(dataset string, limit int) ([]db.Alert, error) {
	var alerts []db.Alert
	if dataset == "" {
		_, err := s.DB.Select(&alerts,
			`SELECT * FROM alerts ORDER BY fired_at DESC LIMIT $1`, limit)
		return alerts, err
	}
	_, err := s.DB.Select(&alerts,
		`SELECT * FROM alerts WHERE dataset_name = $1 ORDER BY fired_at DESC LIMIT $2`, dataset, limit)
	return alerts, err
}

// Resolve implements the AlertStore interface.
func (s DBAlertStore) Resolve(alertID int64, at time.Time) error {
	_, err := s.DB.Exec(
		`UPDATE alerts SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`, at, alertID)
	return err
}

// Engine evaluates alert rules with cooldown handling.
type Engine struct {
	Store AlertStore
	Rules []Rule
	Cfg   core.AlertRuleConfigurations

	// dependency injection slot (usually time.Now, except in tests)
	TimeNow func() time.Time
}

// NewEngine builds an Engine with the default rule set.
func NewEngine(store AlertStore, cfg core.AlertRuleConfigurations) *Engine {
	return &Engine{Store: store, Rules: DefaultRules(), Cfg: cfg, TimeNow: time.Now}
}

// Evaluate runs all rules against the given context and persists any alerts
// that are not suppressed by an active cooldown. It returns the alerts fired
// in this pass.
func (e *Engine) Evaluate(ctx EvalContext) ([]db.Alert, error) {
	now := e.TimeNow().UTC()
	cooldown := time.Duration(e.Cfg.CooldownMinutes) * time.Minute
	var fired []db.Alert

	for _, rule := range e.Rules {
		hit, message, metadata := rule.Check(ctx)
		if !hit {
			continue
		}
		suppressed, err := e.Store.HasUnresolvedSince(rule.Name, now.Add(-cooldown))
		if err != nil {
			return fired, fmt.Errorf("while checking cooldown for rule %s: %w", rule.Name, err)
		}
		if suppressed {
			continue
		}

		metaJSON := "{}"
		if metadata != nil {
			if buf, err := json.Marshal(metadata); err == nil {
				metaJSON = string(buf)
			}
		}
		alert := db.Alert{
			RuleName:    rule.Name,
			AlertType:   rule.AlertType,
			Severity:    rule.Severity,
			DatasetName: ctx.Dataset,
			Message:     message,
			FiredAt:     now,
			ContextJSON: metaJSON,
		}
		if err := e.Store.Save(alert); err != nil {
			return fired, fmt.Errorf("while persisting alert for rule %s: %w", rule.Name, err)
		}
		logg.Info("alert fired: rule=%s dataset=%s severity=%s: %s", rule.Name, ctx.Dataset, rule.Severity, message)
		fired = append(fired, alert)
	}
	return fired, nil
}

// DefaultRules returns the stock rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "ingestion_run_failed",
			AlertType: AlertTypeRunFailure,
			Severity:  SeverityCritical,
			Check: func(ctx EvalContext) (bool, string, map[string]any) {
				if len(ctx.RecentRuns) == 0 {
					return false, "", nil
				}
				run := ctx.RecentRuns[0]
				if run.Status != db.RunStatusFailed {
					return false, "", nil
				}
				return true,
					fmt.Sprintf("latest run %s failed: %s", run.BatchID, run.ErrorMessage),
					map[string]any{"batch_id": run.BatchID, "error_type": run.ErrorType}
			},
		},
		{
			Name:      "excessive_row_rejects",
			AlertType: AlertTypeDataQuality,
			Severity:  SeverityWarning,
			Check: func(ctx EvalContext) (bool, string, map[string]any) {
				if len(ctx.RecentRuns) == 0 {
					return false, "", nil
				}
				run := ctx.RecentRuns[0]
				if run.RejectRows <= int64(ctx.Cfg.MaxErrorsPerRun) {
					return false, "", nil
				}
				return true,
					fmt.Sprintf("run %s rejected %d rows (limit %d)", run.BatchID, run.RejectRows, ctx.Cfg.MaxErrorsPerRun),
					map[string]any{"batch_id": run.BatchID, "reject_rows": run.RejectRows}
			},
		},
		{
			Name:      "dataset_stale",
			AlertType: AlertTypeFreshness,
			Severity:  SeverityWarning,
			Check: func(ctx EvalContext) (bool, string, map[string]any) {
				if len(ctx.RecentRuns) == 0 {
					return false, "", nil
				}
				hours := ctx.Now.Sub(ctx.RecentRuns[0].StartedAt).Hours()
				if hours <= ctx.Cfg.StaleAfterHours {
					return false, "", nil
				}
				return true,
					fmt.Sprintf("no ingestion for %.1f hours (limit %.0f)", hours, ctx.Cfg.StaleAfterHours),
					map[string]any{"hours_since_last_ingestion": hours}
			},
		},
		{
			Name:      "critical_health_metric",
			AlertType: AlertTypeAnomaly,
			Severity:  SeverityCritical,
			Check: func(ctx EvalContext) (bool, string, map[string]any) {
				for _, metric := range ctx.Report.Metrics {
					if metric.Status == StatusCritical {
						return true,
							fmt.Sprintf("metric %s/%s is critical (value %.3f, threshold %.3f)",
								metric.MetricType, metric.MetricName, metric.Value, metric.Threshold),
							map[string]any{"metric_type": metric.MetricType, "metric_name": metric.MetricName}
					}
				}
				return false, "", nil
			},
		},
		{
			Name:      "anomaly_count_exceeded",
			AlertType: AlertTypeAnomaly,
			Severity:  SeverityWarning,
			Check: func(ctx EvalContext) (bool, string, map[string]any) {
				count := 0
				for _, metric := range ctx.Report.Metrics {
					if metric.Status != StatusHealthy {
						count++
					}
				}
				if count <= ctx.Cfg.MaxAnomalyCount {
					return false, "", nil
				}
				return true,
					fmt.Sprintf("%d anomalous metrics (limit %d)", count, ctx.Cfg.MaxAnomalyCount),
					map[string]any{"anomaly_count": count}
			},
		},
	}
}
