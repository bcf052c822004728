// Command manual drives a single asset through one archiver method,
// bypassing the manifest sweep — for operators re-running one dataset
// after an incident instead of the whole pipeline (spec §6).
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

	"github.com/wisplidn/caiyuangungun-go/internal/config"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/metrics"
	"github.com/wisplidn/caiyuangungun-go/internal/orchestrator"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/tradingcalendar"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient/tushareapi"

	"github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("manual", flag.ContinueOnError)
	dataType := fs.String("data-type", "", "manifest asset name to operate on, e.g. income, daily, stock_basic")
	mode := fs.String("mode", "", "backfill | update | key (process a single partition key)")
	key := fs.String("key", "", "partition key to process; required when --mode=key")
	configPath := fs.String("config", "config.yaml", "path to the process configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *dataType == "" || *mode == "" {
		fmt.Fprintln(os.Stderr, "manual: --data-type and --mode are required")
		return 1
	}
	if *mode == "key" && *key == "" {
		fmt.Fprintln(os.Stderr, "manual: --key is required when --mode=key")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manual: failed to load config: %v\n", err)
		return 1
	}

	asset, ok := manifest.Default().Asset(*dataType)
	if !ok {
		fmt.Fprintf(os.Stderr, "manual: %q is not a known asset; see the manifest for valid names\n", *dataType)
		return 1
	}

	logger := newLogger(cfg.Logging)
	metricsRegistry := metrics.New(prometheus.NewRegistry())

	store := storage.New(cfg.Storage.BaseDir, "tushare")
	log, err := requestlog.Open(cfg.RequestLog.DBPath, cfg.RequestLog.BusyTimeout)
	if err != nil {
		logger.WithError(err).Error("failed to open request log")
		return 1
	}
	defer log.Close()

	retry := vendorclient.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Vendor.RetryCount

	transport := tushareapi.New(cfg.Vendor.BaseURL, cfg.Vendor.Token, cfg.Vendor.Timeout)
	client, err := vendorclient.NewClient(transport, vendorclient.Config{
		RequestsPerMinute: cfg.Vendor.RequestsPerMinute,
		Retry:             retry,
		EndpointStorePath: filepath.Join(cfg.Storage.BaseDir, "endpoints.yaml"),
	}, knownEndpoints(), logger)
	if err != nil {
		logger.WithError(err).Error("failed to construct vendor client")
		return 1
	}

	loadCalendar := func() (*tradingcalendar.Calendar, error) { return tradingcalendar.Load(store) }
	build := orchestrator.NewBuilder(client, store, log, logger, time.Now, loadCalendar, metricsRegistry)

	a, err := build(asset)
	if err != nil {
		logger.WithError(err).Error("failed to build archiver")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "backfill":
		if err := a.Backfill(ctx); err != nil {
			logger.WithError(err).Error("backfill failed")
			return 1
		}
	case "update":
		if err := a.Update(ctx); err != nil {
			logger.WithError(err).Error("update failed")
			return 1
		}
	case "key":
		status := a.ProcessOne(ctx, *key)
		logger.WithField("key", *key).WithField("status", status).Info("key processed")
	default:
		fmt.Fprintf(os.Stderr, "manual: unknown mode %q\n", *mode)
		return 1
	}
	return 0
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

// knownEndpoints mirrors cmd/orchestrator's registration: a manual
// single-asset run still needs every endpoint the vendor client might
// dispatch to (a code_driven asset's driver_source resolves through
// another asset's endpoint when it isn't the built-in constant list).
func knownEndpoints() []vendorclient.EndpointConfig {
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
