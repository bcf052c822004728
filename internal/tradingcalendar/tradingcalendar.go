// Package tradingcalendar reads the locally-ingested "trade_cal" snapshot
// asset and answers trading-day questions for the trade-date archiver and
// the quality checker (spec §4.5.2, §4.7 "trade_cal snapshot, is_open=1").
//
// It depends on the snapshot already being on disk: the manifest orders
// trade_cal ahead of every asset that reads it, resolving what would
// otherwise be a circular dependency between "ingest trade_cal" and
// "know which days to ingest" by ordering rather than by a dependency
// graph (spec §4.5.2: "circular dependency resolved by ordering").
package tradingcalendar

import (
	"fmt"
	"sort"

	"github.com/wisplidn/caiyuangungun-go/internal/storage"
)

// Calendar is the set of known trading days for one exchange.
type Calendar struct {
	tradingDays map[string]bool
	sorted      []string
}

// ErrNotIngested is returned when the trade_cal snapshot has not been
// written to disk yet — spec's "Missing dependency asset" edge case: the
// orchestrator should abort the dependent asset with a clear message
// rather than a bare filesystem error.
type ErrNotIngested struct {
	AssetDir string
}

func (e *ErrNotIngested) Error() string {
	return fmt.Sprintf("trading calendar snapshot not found under %s; run the trade_cal snapshot asset first", e.AssetDir)
}

// Load reads the most recent trade_cal snapshot partition under store and
// builds a Calendar from its cal_date/is_open columns.
func Load(store *storage.Store) (*Calendar, error) {
	assetDir := store.AssetDir("trade_cal")
	names, err := store.ListPartitionDirs(assetDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, &ErrNotIngested{AssetDir: assetDir}
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	f, _, err := store.ReadPartition(store.PartitionDir("trade_cal", latest))
	if err != nil {
		return nil, err
	}

	cal := &Calendar{tradingDays: make(map[string]bool)}
	for _, row := range f.Rows {
		date, _ := row["cal_date"].(string)
		if date == "" {
			continue
		}
		if isOpen(row["is_open"]) {
			cal.tradingDays[date] = true
		}
	}
	cal.sorted = make([]string, 0, len(cal.tradingDays))
	for d := range cal.tradingDays {
		cal.sorted = append(cal.sorted, d)
	}
	sort.Strings(cal.sorted)
	return cal, nil
}

// isOpen interprets the is_open cell, which the Parquet round trip always
// renders as a string ("1"/"0"/"True"/"False" per frame.Render), or, for
// calendars built directly in tests, a bool or numeric Go value.
func isOpen(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == "1" || t == "True"
	case bool:
		return t
	case int:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	default:
		return false
	}
}

// IsTradingDay reports whether date (YYYYMMDD) is a trading day.
func (c *Calendar) IsTradingDay(date string) bool {
	return c.tradingDays[date]
}

// TradingDaysInRange returns every known trading day with start <= day <= end,
// both inclusive, in ascending order.
func (c *Calendar) TradingDaysInRange(start, end string) []string {
	lo := sort.SearchStrings(c.sorted, start)
	var out []string
	for _, d := range c.sorted[lo:] {
		if d > end {
			break
		}
		out = append(out, d)
	}
	return out
}
