package orchestrator

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wisplidn/caiyuangungun-go/internal/archiver"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/metrics"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/tradingcalendar"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
)

// indexAssetName is the stock_basic-style driver source name the manifest
// uses for code-driven assets sourced from an in-memory constant list
// rather than another asset's latest snapshot.
const indexAssetName = "COMMON_INDEXES"

// NewBuilder returns the archiver.Builder this pipeline ships with: one
// concrete archiver type per manifest.ArchiverKind, wired to the shared
// vendor client, storage root, and request log, with the two
// asset-specific overrides the manifest calls for — the stock_basic
// snapshot's multi-status fetch, and each code-driven asset's configured
// driver source (spec §4.7 is silent on exactly how archivers get built;
// this factory is the concrete wiring point construction-time errors in
// spec §7's error table — "unknown endpoint" style configuration
// problems — are raised from).
//
// loadCalendar is called fresh every time a trade_date asset is built,
// rather than once up front, because the manifest orders trade_cal's own
// snapshot asset ahead of every trade_date asset specifically so the
// calendar it depends on is already on disk by the time the sweep
// reaches it (spec §4.5.2: "circular dependency resolved by ordering") —
// resolving the calendar once before the sweep starts would make the
// very first backfill run permanently fail every trade_date asset, since
// trade_cal hasn't been ingested yet at that point.
func NewBuilder(client *vendorclient.Client, store *storage.Store, log *requestlog.Store, logger *logrus.Entry, clock func() time.Time, loadCalendar func() (*tradingcalendar.Calendar, error), reg *metrics.Registry) archiver.Builder {
	return func(asset manifest.Asset) (archiver.Archiver, error) {
		base := archiver.Base{Asset: asset, Client: client, Store: store, Log: log, Logger: logger, Clock: clock, Metrics: reg}

		switch asset.Archiver {
		case manifest.ArchiverPeriod:
			return archiver.NewPeriod(base), nil

		case manifest.ArchiverTradeDate:
			cal, err := loadCalendar()
			if err != nil {
				return nil, fmt.Errorf("asset %q: %w", asset.Name, err)
			}
			return archiver.NewTradeDate(base, cal), nil

		case manifest.ArchiverEventDate:
			return archiver.NewEventDate(base), nil

		case manifest.ArchiverSnapshot:
			snap := archiver.NewSnapshot(base)
			// stock_basic is the one snapshot asset the vendor only
			// exposes through three separate list_status calls (spec
			// SUPPLEMENTED FEATURES item 3).
			if asset.Name == "stock_basic" {
				snap.MultiStatusFetch = true
			}
			return snap, nil

		case manifest.ArchiverCodeDriven:
			source, err := codeSourceFor(&base, asset.DriverSource)
			if err != nil {
				return nil, fmt.Errorf("asset %q: %w", asset.Name, err)
			}
			return archiver.NewCodeDriven(base, source), nil

		case manifest.ArchiverIndexMonthly:
			return archiver.NewIndexMonthly(base, archiver.DefaultCommonIndexes), nil

		default:
			return nil, fmt.Errorf("asset %q: unknown archiver kind %q", asset.Name, asset.Archiver)
		}
	}
}

// codeSourceFor resolves a code_driven asset's driver_source field to a
// concrete archiver.CodeSource: either the built-in constant index list,
// or another asset's latest on-disk snapshot (spec §4.5.5; manifest
// validation already guarantees driver_source is non-empty).
func codeSourceFor(base *archiver.Base, driverSource string) (archiver.CodeSource, error) {
	if driverSource == indexAssetName {
		return archiver.ConstantCodeSource(archiver.DefaultCommonIndexes), nil
	}
	return archiver.SnapshotCodeSource(base, driverSource), nil
}
