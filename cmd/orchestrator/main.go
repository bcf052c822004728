// Command orchestrator runs the full manifest through one of the three
// pipeline modes — backfill, update, quality_check — per spec §6's CLI
// surface contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wisplidn/caiyuangungun-go/internal/config"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/metrics"
	"github.com/wisplidn/caiyuangungun-go/internal/metricsserver"
	"github.com/wisplidn/caiyuangungun-go/internal/orchestrator"
	"github.com/wisplidn/caiyuangungun-go/internal/qualitycheck"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/tradingcalendar"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient/tushareapi"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	exitOK                   = 0
	exitHardFailure          = 1
	exitQualityFailuresRemain = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	mode := fs.String("mode", "", "backfill | update | quality_check")
	configPath := fs.String("config", "config.yaml", "path to the process configuration file")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics and /healthz on, e.g. :9090 (optional)")
	if err := fs.Parse(args); err != nil {
		return exitHardFailure
	}
	if *mode == "" {
		fmt.Fprintln(os.Stderr, "orchestrator: --mode is required")
		return exitHardFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: failed to load config: %v\n", err)
		return exitHardFailure
	}

	logger := newLogger(cfg.Logging)

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	var server *metricsserver.Server
	if *metricsAddr != "" {
		server = metricsserver.New(*metricsAddr, reg)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	store := storage.New(cfg.Storage.BaseDir, "tushare")
	log, err := requestlog.Open(cfg.RequestLog.DBPath, cfg.RequestLog.BusyTimeout)
	if err != nil {
		logger.WithError(err).Error("failed to open request log")
		return exitHardFailure
	}
	defer log.Close()

	retry := vendorclient.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Vendor.RetryCount

	transport := tushareapi.New(cfg.Vendor.BaseURL, cfg.Vendor.Token, cfg.Vendor.Timeout)
	client, err := vendorclient.NewClient(transport, vendorclient.Config{
		RequestsPerMinute: cfg.Vendor.RequestsPerMinute,
		Retry:             retry,
		EndpointStorePath: filepath.Join(cfg.Storage.BaseDir, "endpoints.yaml"),
	}, endpoints(), logger)
	if err != nil {
		logger.WithError(err).Error("failed to construct vendor client")
		return exitHardFailure
	}
	client = client.WithMetrics(metricsRegistry)

	m := manifest.Default()
	if err := m.Validate(); err != nil {
		logger.WithError(err).Error("manifest failed validation")
		return exitHardFailure
	}

	loadCalendar := func() (*tradingcalendar.Calendar, error) {
		return tradingcalendar.Load(store)
	}
	build := orchestrator.NewBuilder(client, store, log, logger, time.Now, loadCalendar, metricsRegistry)

	checker := &qualitycheck.Checker{
		Manifest: m,
		Store:    store,
		Log:      log,
		Build:    build,
		Logger:   logger,
		Metrics:  metricsRegistry,
		Calendar: loadCalendarOrNil(loadCalendar),
	}

	o := &orchestrator.Orchestrator{
		Manifest:        m,
		Build:           build,
		QualityWorkflow: checker,
		Logger:          logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := o.Run(ctx, orchestrator.Mode(*mode))
	if err != nil {
		logger.WithError(err).Error("orchestrator run failed")
		return exitHardFailure
	}
	for asset, assetErr := range result.AssetErrors {
		logger.WithError(assetErr).WithField("asset", asset).Error("asset failed during run")
	}
	if !result.QualityReport.OK() {
		logger.Warnf("%d quality-check failures remain after refetch", len(result.QualityReport.Failures))
		return exitQualityFailuresRemain
	}
	return exitOK
}

// loadCalendarOrNil loads the trading calendar once for the quality
// checker's completeness sweep. A not-yet-ingested calendar (the very
// first run, before trade_cal has ever been fetched) degrades to nil —
// the checker already reports this as a single, asset-scoped failure
// rather than aborting the whole sweep.
func loadCalendarOrNil(loadCalendar func() (*tradingcalendar.Calendar, error)) *tradingcalendar.Calendar {
	cal, err := loadCalendar()
	if err != nil {
		return nil
	}
	return cal
}

func newLogger(cfg config.LoggingConfig) *logrus.Entry {
	l := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		l.SetLevel(level)
	}
	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l)
}

// endpoints declares every vendor dataset this pipeline's manifest
// touches (spec §4.1 "unknown data types are rejected at construction,
// not discovered at call time"). Paginated/LimitMax defaults follow spec
// §4.1's "default 3000-5000"; the small reference tables (trade_cal,
// stock_basic, index_basic, index_classify) return their whole universe in one page
// and are not paginated.
func endpoints() []vendorclient.EndpointConfig {
	paginated := func(name string) vendorclient.EndpointConfig {
		return vendorclient.EndpointConfig{Name: name, Paginated: true, LimitMax: 5000}
	}
	return []vendorclient.EndpointConfig{
		paginated("income"),
		paginated("balancesheet"),
		paginated("cashflow"),
		paginated("fina_indicator"),
		paginated("express"),
		paginated("forecast"),
		paginated("fina_mainbz"),
		paginated("dividend"),
		paginated("daily"),
		paginated("daily_basic"),
		paginated("adj_factor"),
		{Name: "trade_cal"},
		{Name: "stock_basic"},
		{Name: "index_basic"},
		{Name: "index_classify"},
		paginated("index_daily"),
		paginated("stk_holdernumber"),
		paginated("index_weight"),
	}
}
