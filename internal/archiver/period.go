package archiver

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/wisplidn/caiyuangungun-go/internal/storage"
)

// periodEnds is the fixed quarterly set a fiscal period must fall on
// (spec Invariant 5: "month/day in the fixed quarterly set").
var periodEnds = []string{"0331", "0630", "0930", "1231"}

// Period archives quarterly-reported datasets (income, balancesheet,
// cashflow, ...): spec §4.5.1. Each key is a fiscal period end
// (YYYYMMDD); versions are kept as ingest_date= subdirectories beneath
// period=<key>/ so history is never overwritten.
type Period struct {
	Base
	// LookbackMonths bounds Update's window: every period key whose
	// quarter-end falls within the last LookbackMonths months is
	// reprocessed (original_source/data_manifest.py's "quarterly" policy
	// uses lookback_months, not a quarter count, "to cover and correct any
	// restated financial reports"). Backfill always walks from the
	// asset's configured BackfillStart regardless of this value.
	LookbackMonths int
}

func NewPeriod(base Base) *Period {
	lookback := base.Asset.Policy.LookbackMonths
	if lookback == 0 {
		lookback = 8
	}
	return &Period{Base: base, LookbackMonths: lookback}
}

// ExpectedPeriodKeys returns the quarter-end keys a completeness check
// should expect an ingest record for: every period key within the last
// lookbackMonths months through the current (possibly not yet elapsed)
// quarter (spec §4.8 "period: expected keys = quarter generator restricted
// to the last lookback_months months").
func ExpectedPeriodKeys(now time.Time, lookbackMonths int) []string {
	cutoffTime := now.AddDate(0, -lookbackMonths, 0)
	cutoff := cutoffTime.Format("20060102")
	var keys []string
	for _, key := range periodKeys(cutoffTime.Year(), now.Year(), int(now.Month())) {
		if key < cutoff {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// periodKeys generates every fiscal period end from origin's year through
// today, truncated so no key exceeds the current quarter (spec §4.5.1).
func periodKeys(originYear, nowYear, nowMonth int) []string {
	var keys []string
	currentQuarterEnd := quarterEndBefore(nowMonth)
	for year := originYear; year <= nowYear; year++ {
		for _, end := range periodEnds {
			if year == nowYear && end > currentQuarterEnd {
				continue
			}
			keys = append(keys, fmt.Sprintf("%04d%s", year, end))
		}
	}
	return keys
}

// quarterEndBefore returns the "MMDD" quarter-end key for the quarter
// month belongs to.
func quarterEndBefore(month int) string {
	switch {
	case month <= 3:
		return "0331"
	case month <= 6:
		return "0630"
	case month <= 9:
		return "0930"
	default:
		return "1231"
	}
}

func (p *Period) assetDir() string {
	return p.Store.AssetDir(p.Asset.Name)
}

func (p *Period) keyDir(key string) string {
	return filepath.Join(p.assetDir(), fmt.Sprintf("period=%s", key))
}

// latestVersionDir returns the most recent ingest_date= subdirectory for
// key, if any version has ever been written.
func (p *Period) latestVersionDir(key string) (string, bool) {
	versions, err := p.Store.ListPartitionDirs(p.keyDir(key))
	if err != nil || len(versions) == 0 {
		return "", false
	}
	sort.Strings(versions)
	return filepath.Join(p.keyDir(key), versions[len(versions)-1]), true
}

func (p *Period) requestParams(key string) map[string]string {
	return map[string]string{"period": key}
}

// Backfill walks every fiscal period from the asset's backfill origin
// through today; a period=<key>/ directory already present is the resume
// marker and is skipped entirely (spec §4.5.1 "Backfill policy").
func (p *Period) Backfill(ctx context.Context) error {
	origin := originYear(p.Asset.BackfillStart)
	now := p.now()
	for _, key := range periodKeys(origin, now.Year(), int(now.Month())) {
		if cancelled(ctx) {
			return ctx.Err()
		}
		if _, ok := p.latestVersionDir(key); ok {
			continue
		}
		p.ProcessOne(ctx, key)
	}
	return nil
}

// Update reprocesses every period key whose quarter-end falls within the
// last LookbackMonths months, unconditionally, relying on ingestOne's
// checksum comparison to turn a no-op fetch into a no_change log entry
// instead of a new version (spec §4.5.1 "Update policy").
func (p *Period) Update(ctx context.Context) error {
	now := p.now()
	cutoff := now.AddDate(0, -p.LookbackMonths, 0).Format("20060102")
	for _, key := range periodKeys(originYear(p.Asset.BackfillStart), now.Year(), int(now.Month())) {
		if cancelled(ctx) {
			return ctx.Err()
		}
		if key < cutoff {
			continue
		}
		p.ProcessOne(ctx, key)
	}
	return nil
}

// ProcessOne runs the shared per-key contract for one fiscal period,
// writing (on success) a brand-new ingest_date= version subdirectory —
// period is the one archiver kind that never overwrites a prior version
// in place (spec Invariant 4).
func (p *Period) ProcessOne(ctx context.Context, key string) Status {
	versionDir := filepath.Join(p.keyDir(key), storage.VersionDirName(p.now()))
	latest, existedBefore := p.latestVersionDir(key)
	regressionDir := versionDir
	if existedBefore {
		regressionDir = latest
	}

	return p.ingestOne(ctx, ingestParams{
		key:             key,
		dir:             versionDir,
		requestParams:   p.requestParams(key),
		checkNoChange:   true,
		existedOverride: boolPtr(existedBefore),
		regressionDir:   regressionDir,
	})
}

func boolPtr(b bool) *bool { return &b }

func originYear(backfillStart string) int {
	if len(backfillStart) < 4 {
		return 2007
	}
	var year int
	fmt.Sscanf(backfillStart[:4], "%d", &year)
	if year == 0 {
		return 2007
	}
	return year
}
