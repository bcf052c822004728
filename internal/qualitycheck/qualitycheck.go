// Package qualitycheck computes the expected partition set for each
// manifest asset from its archiver kind and policy, flags any that are
// missing or unreadable, and drives the targeted-refetch-then-recheck
// workflow the orchestrator invokes after every ingestion sweep (spec C8,
// §4.8; SUPPLEMENTED FEATURES item 5, folding in the original
// implementation's standalone audit.py reconciliation as verifyOnDisk).
package qualitycheck

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wisplidn/caiyuangungun-go/internal/archiver"
	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/metrics"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/tradingcalendar"
	shlog "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/logging"
)

// Failure is one persistent problem found for one asset/partition-key pair.
type Failure struct {
	Asset  string
	Key    string
	Reason string
}

// Report is the outcome of one quality-check sweep.
type Report struct {
	Failures []Failure
}

// OK reports whether the sweep found no failures.
func (r Report) OK() bool { return len(r.Failures) == 0 }

// Checker computes expected partition sets per asset/archiver-kind and
// flags missing or corrupt partitions, then drives targeted refetches
// (spec §4.7 "quality workflow", §4.8).
type Checker struct {
	Manifest manifest.Manifest
	Store    *storage.Store
	Log      *requestlog.Store
	Calendar *tradingcalendar.Calendar
	Build    archiver.Builder
	Clock    func() time.Time
	Logger   *logrus.Entry
	Metrics  *metrics.Registry
}

func (c *Checker) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Checker) logger() *logrus.Entry {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run performs one completeness sweep; if it finds failures, issues a
// targeted single-partition refetch for each, then re-runs the sweep and
// returns its result as the final report (spec §4.7 "quality_check:
// ...run QA checks -> if any failures, issue targeted single-partition
// refetches -> re-run QA checks -> report final status"; S6).
func (c *Checker) Run(ctx context.Context) (Report, error) {
	report := c.sweep(ctx)
	if report.OK() {
		c.Metrics.SetQualityFailures(0)
		return report, nil
	}
	c.logger().WithFields(logrus.Fields(shlog.NewFields().
		Component("qualitycheck").Operation("refetch"))).
		Warnf("%d failures found; issuing targeted refetches", len(report.Failures))
	c.refetch(ctx, report.Failures)
	final := c.sweep(ctx)
	c.Metrics.SetQualityFailures(len(final.Failures))
	return final, nil
}

func (c *Checker) refetch(ctx context.Context, failures []Failure) {
	for _, f := range failures {
		asset, ok := c.Manifest.Asset(f.Asset)
		if !ok {
			continue
		}
		a, err := c.Build(asset)
		if err != nil {
			c.logger().WithError(err).WithField("asset", f.Asset).Warn("failed to build archiver for targeted refetch")
			continue
		}
		// Snapshot has one key per day, not per-failure: a missing or
		// empty latest snapshot is refetched by re-running Update rather
		// than ProcessOne on an (empty) key.
		if asset.Archiver == manifest.ArchiverSnapshot {
			if err := a.Update(ctx); err != nil {
				c.logger().WithError(err).WithField("asset", f.Asset).Warn("snapshot refetch failed")
			}
			continue
		}
		a.ProcessOne(ctx, f.Key)
	}
}

func (c *Checker) sweep(ctx context.Context) Report {
	var report Report
	for _, asset := range c.Manifest.Assets {
		report.Failures = append(report.Failures, c.checkAsset(ctx, asset)...)
	}
	return report
}

func (c *Checker) checkAsset(ctx context.Context, asset manifest.Asset) []Failure {
	switch asset.Archiver {
	case manifest.ArchiverPeriod:
		return c.checkKeyedCompleteness(ctx, asset, archiver.ExpectedPeriodKeys(c.now(), lookbackMonthsOrDefault(asset, 8)))
	case manifest.ArchiverTradeDate:
		if c.Calendar == nil {
			return []Failure{{Asset: asset.Name, Reason: "trading calendar not loaded; cannot compute expected trade_date keys"}}
		}
		return c.checkKeyedCompleteness(ctx, asset, archiver.ExpectedTradeDateKeys(c.Calendar, c.now(), lookbackDaysOrDefault(asset, 30)))
	case manifest.ArchiverSnapshot:
		return c.checkSnapshot(asset)
	case manifest.ArchiverEventDate:
		// Spec §4.8: "no completeness check" — an empty payload is
		// semantically valid on most days for event-driven data.
		return nil
	case manifest.ArchiverCodeDriven:
		return c.checkCodeDriven(ctx, asset)
	case manifest.ArchiverIndexMonthly:
		return c.checkIndexMonthly(ctx, asset)
	default:
		return nil
	}
}

// checkKeyedCompleteness is shared by Period and TradeDate: every expected
// key must have a recorded successful/updated ingest AND a readable
// partition on disk (spec §4.8: "every expected key must have a
// successful record in the log and a readable partition on disk").
func (c *Checker) checkKeyedCompleteness(ctx context.Context, asset manifest.Asset, expectedKeys []string) []Failure {
	recorded, err := c.Log.RecordedPartitionKeys(ctx, asset.Name)
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to query request log: %v", err)}}
	}
	recordedSet := make(map[string]bool, len(recorded))
	for _, k := range recorded {
		recordedSet[k] = true
	}

	var failures []Failure
	for _, key := range expectedKeys {
		if !recordedSet[key] {
			failures = append(failures, Failure{Asset: asset.Name, Key: key, Reason: "no successful or updated ingest record"})
			continue
		}
		dir := c.partitionDirFor(asset, key)
		if err := c.verifyOnDisk(dir); err != nil {
			failures = append(failures, Failure{Asset: asset.Name, Key: key, Reason: err.Error()})
		}
	}
	return failures
}

// partitionDirFor renders the on-disk directory for one key, matching
// each archiver kind's directory-naming convention (spec §4.4's directory
// table) without needing a constructed archiver instance.
func (c *Checker) partitionDirFor(asset manifest.Asset, key string) string {
	switch asset.Archiver {
	case manifest.ArchiverPeriod:
		latest, ok := c.latestPeriodVersion(asset.Name, key)
		if ok {
			return latest
		}
		return c.Store.PartitionDir(asset.Name, fmt.Sprintf("period=%s", key))
	case manifest.ArchiverTradeDate:
		return c.Store.PartitionDir(asset.Name, "trade_date="+key)
	default:
		return c.Store.PartitionDir(asset.Name, key)
	}
}

func (c *Checker) latestPeriodVersion(dataType, key string) (string, bool) {
	keyDir := c.Store.PartitionDir(dataType, fmt.Sprintf("period=%s", key))
	versions, err := c.Store.ListPartitionDirs(keyDir)
	if err != nil || len(versions) == 0 {
		return "", false
	}
	latest := versions[0]
	for _, v := range versions {
		if v > latest {
			latest = v
		}
	}
	return filepath.Join(keyDir, latest), true
}

// checkSnapshot applies spec §4.8's single-check rule: "a single check —
// the latest snapshot exists and is non-empty."
func (c *Checker) checkSnapshot(asset manifest.Asset) []Failure {
	names, err := c.Store.ListPartitionDirs(c.Store.AssetDir(asset.Name))
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to list partitions: %v", err)}}
	}
	var latest string
	for _, name := range names {
		if !strings.HasPrefix(name, "snapshot_date=") {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return []Failure{{Asset: asset.Name, Reason: "no snapshot partition found"}}
	}
	meta, err := c.Store.ReadMetadata(c.Store.PartitionDir(asset.Name, latest))
	if err != nil {
		return []Failure{{Asset: asset.Name, Key: latest, Reason: fmt.Sprintf("failed to read metadata: %v", err)}}
	}
	if meta.RowCount == 0 {
		return []Failure{{Asset: asset.Name, Key: latest, Reason: "latest snapshot is empty"}}
	}
	return nil
}

// checkCodeDriven supplements spec §4.8 (which is silent on this kind):
// every code the asset's configured CodeSource yields must have a
// successful ingest record, mirroring the same completeness notion
// Period/TradeDate apply, adapted to a code-driven asset's flat keyspace
// with no time dimension.
func (c *Checker) checkCodeDriven(ctx context.Context, asset manifest.Asset) []Failure {
	a, err := c.Build(asset)
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to build archiver: %v", err)}}
	}
	cd, ok := a.(*archiver.CodeDriven)
	if !ok {
		return []Failure{{Asset: asset.Name, Reason: "code_driven asset did not build a *archiver.CodeDriven"}}
	}
	codes, err := cd.Codes()
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to read code source: %v", err)}}
	}
	done, err := c.Log.SuccessfulPartitionKeys(ctx, asset.Name)
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to query request log: %v", err)}}
	}
	doneSet := make(map[string]bool, len(done))
	for _, k := range done {
		doneSet[k] = true
	}
	var failures []Failure
	for _, code := range codes {
		if !doneSet[code] {
			failures = append(failures, Failure{Asset: asset.Name, Key: code, Reason: "no successful ingest record"})
		}
	}
	return failures
}

// checkIndexMonthly supplements spec §4.8 the same way checkCodeDriven
// does: expected keys are the Cartesian product of the asset's configured
// index codes and the months within its LookbackMonths window, each
// needing a recorded successful/updated ingest and a readable partition.
func (c *Checker) checkIndexMonthly(ctx context.Context, asset manifest.Asset) []Failure {
	a, err := c.Build(asset)
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to build archiver: %v", err)}}
	}
	im, ok := a.(*archiver.IndexMonthly)
	if !ok {
		return []Failure{{Asset: asset.Name, Reason: "index_monthly asset did not build a *archiver.IndexMonthly"}}
	}

	recorded, err := c.Log.RecordedPartitionKeys(ctx, asset.Name)
	if err != nil {
		return []Failure{{Asset: asset.Name, Reason: fmt.Sprintf("failed to query request log: %v", err)}}
	}
	recordedSet := make(map[string]bool, len(recorded))
	for _, k := range recorded {
		recordedSet[k] = true
	}

	now := c.now()
	origin := now.AddDate(0, -(im.LookbackMonths - 1), 0)
	var failures []Failure
	for _, indexCode := range im.Indexes {
		for _, month := range archiver.ExpectedIndexMonths(origin, now) {
			key := indexCode + "-" + month
			if !recordedSet[key] {
				failures = append(failures, Failure{Asset: asset.Name, Key: key, Reason: "no successful or updated ingest record"})
				continue
			}
			dir := c.Store.PartitionDir(asset.Name, fmt.Sprintf("index_code=%s/trade_date=%s", indexCode, month))
			if err := c.verifyOnDisk(dir); err != nil {
				failures = append(failures, Failure{Asset: asset.Name, Key: key, Reason: err.Error()})
			}
		}
	}
	return failures
}

// verifyOnDisk applies spec Invariant 1 directly: a partition directory
// must have metadata.json, and if row_count > 0, a data.parquet file whose
// canonical checksum equals metadata.checksum (SUPPLEMENTED FEATURES item
// 5, the original audit.py reconciliation).
func (c *Checker) verifyOnDisk(dir string) error {
	f, meta, err := c.Store.ReadPartition(dir)
	if err != nil {
		return fmt.Errorf("partition unreadable: %w", err)
	}
	if meta.RowCount == 0 {
		return nil
	}
	if got := frame.Checksum(f); got != meta.Checksum {
		return fmt.Errorf("checksum mismatch: metadata says %s, computed %s", meta.Checksum, got)
	}
	return nil
}

func lookbackMonthsOrDefault(asset manifest.Asset, def int) int {
	if asset.Policy.LookbackMonths == 0 {
		return def
	}
	return asset.Policy.LookbackMonths
}

func lookbackDaysOrDefault(asset manifest.Asset, def int) int {
	if asset.Policy.LookbackDays == 0 {
		return def
	}
	return asset.Policy.LookbackDays
}
