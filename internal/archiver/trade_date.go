package archiver

import (
	"context"
	"time"

	"github.com/wisplidn/caiyuangungun-go/internal/tradingcalendar"
)

// TradeDate archives data keyed by trading day (spec §4.5.2): daily
// quotes, daily basics, adjustment factors. Partitions overwrite in place
// under trade_date=<key>/ — there is no versioned history the way Period
// keeps one.
type TradeDate struct {
	Base
	Calendar *tradingcalendar.Calendar
	// LookbackDays bounds Update's window (policy daily_30d_lookback
	// defaults to 30).
	LookbackDays int
}

func NewTradeDate(base Base, cal *tradingcalendar.Calendar) *TradeDate {
	lookback := base.Asset.Policy.LookbackDays
	if lookback == 0 {
		lookback = 30
	}
	return &TradeDate{Base: base, Calendar: cal, LookbackDays: lookback}
}

func (t *TradeDate) keyDir(key string) string {
	return t.Store.PartitionDir(t.Asset.Name, "trade_date="+key)
}

// Backfill walks every trading day from the asset's configured origin
// through today that is not already on disk, skipping non-trading days
// entirely (spec §4.5.2 "Backfill"; S3 "trade-date skip on non-trading
// day" — no fetch, no directory, no log row for a day the calendar
// doesn't recognize as open).
func (t *TradeDate) Backfill(ctx context.Context) error {
	today := t.now().Format("20060102")
	for _, day := range t.Calendar.TradingDaysInRange(t.Asset.BackfillStart, today) {
		if cancelled(ctx) {
			return ctx.Err()
		}
		if t.Store.Exists(t.keyDir(day)) {
			continue
		}
		t.ProcessOne(ctx, day)
	}
	return nil
}

// ExpectedTradeDateKeys returns the trading days a completeness check (or
// Update) should expect an ingest record for: the last lookbackDays
// trading days through now (spec §4.8 "trade_date: expected keys =
// trading days in the last lookback_days days").
func ExpectedTradeDateKeys(cal *tradingcalendar.Calendar, now time.Time, lookbackDays int) []string {
	days := cal.TradingDaysInRange("00000000", now.Format("20060102"))
	if len(days) > lookbackDays {
		days = days[len(days)-lookbackDays:]
	}
	return days
}

// Update reprocesses the last LookbackDays trading days unconditionally —
// no skip, overwrite semantics, since corrections to recent days are the
// entire point of the lookback window (spec §4.5.2 "Update").
func (t *TradeDate) Update(ctx context.Context) error {
	days := ExpectedTradeDateKeys(t.Calendar, t.now(), t.LookbackDays)
	for _, day := range days {
		if cancelled(ctx) {
			return ctx.Err()
		}
		t.ProcessOne(ctx, day)
	}
	return nil
}

// ProcessOne runs the shared per-key contract for one trading day,
// overwriting the existing trade_date=<key>/ partition in place and
// keeping the prior version under archive/ (SPEC_FULL.md §4 item 4). A
// day with non-trivial prior history asks the vendor client to treat an
// empty response as suspicious and retry it within the client's retry
// budget, accepting it only if the last attempt is empty too (spec
// §4.5.2 "Suspicious-empty guard").
func (t *TradeDate) ProcessOne(ctx context.Context, key string) Status {
	dir := t.keyDir(key)
	return t.ingestOne(ctx, ingestParams{
		key:             key,
		dir:             dir,
		requestParams:   map[string]string{"trade_date": key},
		archivePrevious: true,
		expectNonEmpty:  t.hasComparableHistory(dir),
	})
}

// hasComparableHistory reports whether dir already holds a partition with
// rows, the signal that a later empty response for the same key is more
// likely a transient vendor glitch than a genuinely quiet trading day.
func (t *TradeDate) hasComparableHistory(dir string) bool {
	meta, err := t.Store.ReadMetadata(dir)
	return err == nil && meta.RowCount > 0
}
