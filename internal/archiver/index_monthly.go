package archiver

import (
	"context"
	"path/filepath"
	"sort"
	"time"
)

// IndexMonthly archives the Cartesian product of a configured list of
// index codes and month-end dates, one partition per (index_code,
// month_end) pair (spec §4.5.6: index_weight).
type IndexMonthly struct {
	Base
	Indexes []string
	// LookbackMonths bounds Update's window (policy "monthly" defaults
	// to 12, per original_source/data_manifest.py's UPDATE_POLICIES).
	LookbackMonths int
}

func NewIndexMonthly(base Base, indexes []string) *IndexMonthly {
	lookback := base.Asset.Policy.LookbackMonths
	if lookback == 0 {
		lookback = 12
	}
	return &IndexMonthly{Base: base, Indexes: indexes, LookbackMonths: lookback}
}

func (m *IndexMonthly) keyDir(indexCode, monthEnd string) string {
	return m.Store.PartitionDir(m.Asset.Name, filepath.Join("index_code="+indexCode, "trade_date="+monthEnd))
}

func (m *IndexMonthly) partitionKey(indexCode, monthEnd string) string {
	return indexCode + "-" + monthEnd
}

// monthEnds generates every month-end date (YYYYMMDD) from origin through
// the month containing now, inclusive.
func monthEnds(origin, now time.Time) []string {
	var out []string
	cur := time.Date(origin.Year(), origin.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		monthEnd := cur.AddDate(0, 1, -1)
		out = append(out, monthEnd.Format("20060102"))
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// ExpectedIndexMonths returns every month-end date from origin through the
// month containing now — the same generator Backfill/Update use, exposed
// for the quality checker's completeness sweep (spec §4.8 supplement: no
// rule is given in spec.md for index_monthly, so it follows the same
// expected-keys-from-lookback-window shape as Period/TradeDate).
func ExpectedIndexMonths(origin, now time.Time) []string {
	return monthEnds(origin, now)
}

// Backfill scans disk for (index_code, month_end) pairs already present
// and processes the complement, sorted by index then month (spec §4.5.6).
func (m *IndexMonthly) Backfill(ctx context.Context) error {
	origin, err := time.Parse("20060102", m.Asset.BackfillStart)
	if err != nil {
		return err
	}
	months := monthEnds(origin, m.now())
	indexes := append([]string(nil), m.Indexes...)
	sort.Strings(indexes)
	for _, indexCode := range indexes {
		for _, month := range months {
			if cancelled(ctx) {
				return ctx.Err()
			}
			if m.Store.Exists(m.keyDir(indexCode, month)) {
				continue
			}
			m.process(ctx, indexCode, month)
		}
	}
	return nil
}

// Update reprocesses the last LookbackMonths months for every index,
// overwrite semantics within each key directory (spec §4.5.6).
func (m *IndexMonthly) Update(ctx context.Context) error {
	now := m.now()
	origin := now.AddDate(0, -(m.LookbackMonths - 1), 0)
	months := monthEnds(origin, now)
	indexes := append([]string(nil), m.Indexes...)
	sort.Strings(indexes)
	for _, indexCode := range indexes {
		for _, month := range months {
			if cancelled(ctx) {
				return ctx.Err()
			}
			m.process(ctx, indexCode, month)
		}
	}
	return nil
}

func (m *IndexMonthly) process(ctx context.Context, indexCode, month string) Status {
	return m.ingestOne(ctx, ingestParams{
		key:             m.partitionKey(indexCode, month),
		dir:             m.keyDir(indexCode, month),
		requestParams:   map[string]string{"index_code": indexCode, "trade_date": month},
		archivePrevious: true,
	})
}

// ProcessOne accepts a combined "index_code-month_end" key, matching the
// request log's partition_key shape, and routes to process.
func (m *IndexMonthly) ProcessOne(ctx context.Context, key string) Status {
	indexCode, month := splitIndexMonthKey(key)
	return m.process(ctx, indexCode, month)
}

func splitIndexMonthKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '-' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
