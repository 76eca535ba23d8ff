// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
)

// Sweeper periodically evaluates the alert rules against the health report of
// every registered dataset.
type Sweeper struct {
	Monitor *Monitor
	Engine  *Engine
	Runs    RunSource
}

// AlertSweepJob is a jobloop.CronJob.
func (s *Sweeper) AlertSweepJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "evaluate alert rules against per-dataset health reports",
			CounterOpts: prometheus.CounterOpts{
				Name: "cmspipe_cron_alert_sweeps",
				Help: "Counter for alert rule evaluation sweeps",
			},
		},
		Interval:     15 * time.Minute,
		InitialDelay: 10 * time.Second,
		Task:         s.sweep,
	}).Setup(registerer)
}

func (s *Sweeper) sweep(ctx context.Context, _ prometheus.Labels) error {
	now := s.Engine.TimeNow().UTC()
	for _, dataset := range s.Monitor.Schemas.Datasets() {
		if err := ctx.Err(); err != nil {
			return err
		}
		runs, err := s.Runs.GetRecentRunsForDataset(dataset, recentRunWindow)
		if err != nil {
			return fmt.Errorf("while reading run history for %s: %w", dataset, err)
		}
		// datasets that were never ingested have nothing to alert on
		if len(runs) == 0 {
			continue
		}
		report, err := s.Monitor.Report(dataset)
		if err != nil {
			return fmt.Errorf("while computing health report for %s: %w", dataset, err)
		}
		_, err = s.Engine.Evaluate(EvalContext{
			Dataset:    dataset,
			RecentRuns: runs,
			Report:     report,
			Now:        now,
			Cfg:        s.Engine.Cfg,
		})
		if err != nil {
			return fmt.Errorf("while evaluating alert rules for %s: %w", dataset, err)
		}
	}
	return nil
}
