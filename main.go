// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"

	"github.com/alex-bea/cms-api-sub001/internal/api"
	"github.com/alex-bea/cms-api-sub001/internal/core"
	"github.com/alex-bea/cms-api-sub001/internal/db"
	"github.com/alex-bea/cms-api-sub001/internal/ingest"
	"github.com/alex-bea/cms-api-sub001/internal/observe"
	"github.com/alex-bea/cms-api-sub001/internal/parsekit"
	"github.com/alex-bea/cms-api-sub001/internal/parsers"
	"github.com/alex-bea/cms-api-sub001/internal/resolver"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("CMSPIPE_DEBUG")

	// first two arguments must be task name and configuration file
	if len(os.Args) < 3 {
		printUsageAndExit()
	}
	taskName, configPath := os.Args[1], os.Args[2]
	remainingArgs := os.Args[3:]

	cfg := core.NewConfiguration(configPath)

	var task func(context.Context, core.Configuration, []string) error
	switch taskName {
	case "ingest":
		task = taskIngest
	case "serve":
		task = taskServe
	case "resolve":
		task = taskResolve
	default:
		printUsageAndExit()
	}

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)
	err := task(ctx, cfg, remainingArgs)
	if err != nil {
		logg.Fatal(err.Error())
	}
}

var usageMessage = strings.Replace(strings.TrimSpace(`
Usage:
\t%s ingest <config-file> <release-id>...
\t%s serve <config-file>
\t%s resolve <config-file> <zip> [<max-radius-miles>]
`), `\t`, "\t", -1) + "\n"

func printUsageAndExit() {
	fmt.Fprintln(os.Stderr, strings.Replace(usageMessage, "%s", os.Args[0], -1))
	os.Exit(1)
}

////////////////////////////////////////////////////////////////////////////////
// task: ingest

func taskIngest(ctx context.Context, cfg core.Configuration, args []string) error {
	if len(args) == 0 {
		printUsageAndExit()
	}

	dbConn, err := db.Init()
	if err != nil {
		logg.Fatal(err.Error())
	}
	dbMap := db.InitORM(dbConn)

	schemas, err := core.NewDefaultSchemaRegistry()
	if err != nil {
		return err
	}
	registry, err := parsers.NewDefaultRegistry(schemas)
	if err != nil {
		return err
	}
	fipsRef, err := core.LoadFIPSReference(cfg.ReferenceDir, cfg.Resolver.CentroidVintage)
	if err != nil {
		return fmt.Errorf("while loading FIPS reference data: %w", err)
	}
	parsekit.RegisterMetrics(prometheus.DefaultRegisterer)

	orch := ingest.NewOrchestrator(
		cfg, schemas, core.NewDefaultLayoutRegistry(), registry,
		ingest.NewRunStore(dbMap),
		ingest.NewDBEnricher(dbMap, cfg.ReferenceDir, cfg.Resolver.CentroidVintage),
		fipsRef,
	)

	var firstErr error
	for _, releaseID := range args {
		report, err := orch.Ingest(ctx, releaseID)
		if err != nil {
			logg.Error("release %s: %s", releaseID, err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		buf, err := json.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Println(string(buf))
	}
	return firstErr
}

////////////////////////////////////////////////////////////////////////////////
// task: serve

func taskServe(ctx context.Context, cfg core.Configuration, args []string) error {
	if len(args) != 0 {
		printUsageAndExit()
	}

	dbConn, err := db.Init()
	if err != nil {
		logg.Fatal(err.Error())
	}
	dbMap := db.InitORM(dbConn)

	schemas, err := core.NewDefaultSchemaRegistry()
	if err != nil {
		return err
	}
	runStore := ingest.NewRunStore(dbMap)
	alertStore := observe.DBAlertStore{DB: dbMap}
	monitor := observe.NewMonitor(runStore, schemas, observe.DBSchemaSource{DB: dbMap}, cfg.Alerting)

	sweeper := observe.Sweeper{
		Monitor: monitor,
		Engine:  observe.NewEngine(alertStore, cfg.Alerting),
		Runs:    runStore,
	}
	go sweeper.AlertSweepJob(prometheus.DefaultRegisterer).Run(ctx)

	var traces resolver.TraceSink = resolver.NopTraceSink{}
	if cfg.Resolver.PersistTraces {
		traces = resolver.DBTraceSink{DB: dbMap}
	}
	res := resolver.New(resolver.GeoDB{DB: dbMap}, traces)

	handler := httpapi.Compose(
		api.NewV1API(cfg, monitor, alertStore, res, runStore),
		httpapi.HealthCheckAPI{SkipRequestLog: true},
	)
	muxer := http.NewServeMux()
	muxer.Handle("/", handler)
	muxer.Handle("/metrics", promhttp.Handler())

	logg.Info("listening on %s", cfg.API.ListenAddress)
	return httpext.ListenAndServeContext(ctx, cfg.API.ListenAddress, muxer)
}

////////////////////////////////////////////////////////////////////////////////
// task: resolve

func taskResolve(ctx context.Context, cfg core.Configuration, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		printUsageAndExit()
	}

	dbConn, err := db.Init()
	if err != nil {
		logg.Fatal(err.Error())
	}
	dbMap := db.InitORM(dbConn)

	opts := resolver.Options{
		UseNBER:        cfg.Resolver.UseNBER,
		MaxRadiusMiles: cfg.Resolver.MaxRadiusMiles,
		IncludeTrace:   true,
	}
	if len(args) == 2 {
		if _, err := fmt.Sscanf(args[1], "%f", &opts.MaxRadiusMiles); err != nil {
			return fmt.Errorf("invalid max-radius-miles %q: %w", args[1], err)
		}
	}

	var traces resolver.TraceSink = resolver.NopTraceSink{}
	if cfg.Resolver.PersistTraces {
		traces = resolver.DBTraceSink{DB: dbMap}
	}
	res := resolver.New(resolver.GeoDB{DB: dbMap}, traces)

	result, err := res.FindNearestZip(ctx, args[0], opts)
	if err != nil {
		return err
	}
	buf, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
