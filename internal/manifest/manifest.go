// Package manifest declares the fixed list of data assets this pipeline
// manages — one entry per dataset, naming its archiver kind, backfill
// origin, and update policy (spec C6). It is the Go rendering of the
// reference pipeline's DATA_ASSETS table.
package manifest

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ArchiverKind names one of the six traversal strategies an asset can be
// processed with (spec C5).
type ArchiverKind string

const (
	ArchiverPeriod       ArchiverKind = "period"
	ArchiverTradeDate    ArchiverKind = "trade_date"
	ArchiverEventDate    ArchiverKind = "event_date"
	ArchiverSnapshot     ArchiverKind = "snapshot"
	ArchiverCodeDriven   ArchiverKind = "code_driven"
	ArchiverIndexMonthly ArchiverKind = "index_monthly"
)

// RunWindow restricts update runs to a range of calendar months, e.g. to
// only check earnings-sensitive data during reporting season (spec §4.6).
type RunWindow struct {
	StartMonth int `yaml:"start_month" validate:"omitempty,min=1,max=12"`
	EndMonth   int `yaml:"end_month" validate:"omitempty,min=1,max=12"`
}

// Contains reports whether month (1-12) falls inside the window. A zero
// -value window (both bounds unset) matches every month.
func (w RunWindow) Contains(month int) bool {
	if w.StartMonth == 0 && w.EndMonth == 0 {
		return true
	}
	if w.StartMonth <= w.EndMonth {
		return month >= w.StartMonth && month <= w.EndMonth
	}
	// A window that wraps the year boundary, e.g. Nov-Feb reporting season.
	return month >= w.StartMonth || month <= w.EndMonth
}

// Policy carries at most one lookback dimension plus an optional run
// window (spec §4.6). Exactly one of LookbackQuarters/LookbackMonths/
// LookbackDays should be set; zero means "no lookback" (full-reload or
// snapshot policies).
type Policy struct {
	Name             string    `yaml:"name"`
	LookbackQuarters int       `yaml:"lookback_quarters,omitempty"`
	LookbackMonths   int       `yaml:"lookback_months,omitempty"`
	LookbackDays     int       `yaml:"lookback_days,omitempty"`
	RunWindow        RunWindow `yaml:"run_window,omitempty"`
}

// Named update policies, grounded on original_source/data_manifest.py's
// UPDATE_POLICIES table. The "frequency" field from the Python source is
// dropped — it was descriptive only, per that file's own comment that the
// lookback parameter drives the actual logic.
var (
	PolicyQuarterly         = Policy{Name: "quarterly", LookbackQuarters: 0, LookbackMonths: 8}
	PolicyMonthly           = Policy{Name: "monthly", LookbackMonths: 12}
	PolicyDaily30dLookback  = Policy{Name: "daily_30d_lookback", LookbackDays: 30}
	PolicyDailyFullReload   = Policy{Name: "daily_full_reload", LookbackDays: 0}
	PolicySnapshot          = Policy{Name: "snapshot"}
)

// Asset is one declarative manifest entry (spec §3 "Asset").
type Asset struct {
	Name          string       `yaml:"name" validate:"required"`
	Archiver      ArchiverKind `yaml:"archiver" validate:"required,oneof=period trade_date event_date snapshot code_driven index_monthly"`
	Policy        Policy       `yaml:"policy"`
	BackfillStart string       `yaml:"backfill_start,omitempty"`
	DriverSource  string       `yaml:"driver_source,omitempty"`
	// EventField names the date field an event_date asset partitions and
	// requests by (spec §4.5.3: "configurable field name, ann_date by
	// default, selects both the directory prefix and the request
	// parameter"). Ignored by every other archiver kind.
	EventField string `yaml:"event_field,omitempty"`
}

// EventFieldOrDefault returns EventField, defaulting to "ann_date" when unset.
func (a Asset) EventFieldOrDefault() string {
	if a.EventField == "" {
		return "ann_date"
	}
	return a.EventField
}

// Manifest is the full ordered asset list. Order matters: the
// orchestrator processes assets in manifest order, and the trading
// calendar snapshot (an ordinary snapshot asset) must appear before any
// asset whose processing depends on reading it.
type Manifest struct {
	Assets []Asset
}

// Validate checks every asset's structural constraints and the
// cross-asset ordering invariant the trading calendar depends on.
func (m Manifest) Validate() error {
	v := validator.New()
	seen := make(map[string]bool, len(m.Assets))
	for i, a := range m.Assets {
		if err := v.Struct(a); err != nil {
			return fmt.Errorf("asset %d (%s): %w", i, a.Name, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate asset name %q", a.Name)
		}
		seen[a.Name] = true
		if a.Archiver == ArchiverTradeDate && !seen["trade_cal"] {
			return fmt.Errorf("asset %q: trade_date archiver must come after the trade_cal asset", a.Name)
		}
		if a.Archiver == ArchiverCodeDriven && a.DriverSource == "" {
			return fmt.Errorf("asset %q: code_driven archiver requires driver_source", a.Name)
		}
	}
	return nil
}

// Asset looks up one asset by name.
func (m Manifest) Asset(name string) (Asset, bool) {
	for _, a := range m.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// Default returns the manifest this pipeline ships with, a direct
// transliteration of original_source/data_manifest.py's DATA_ASSETS.
func Default() Manifest {
	return Manifest{Assets: []Asset{
		{Name: "income", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},
		{Name: "balancesheet", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},
		{Name: "cashflow", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},
		{Name: "fina_indicator", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},
		{Name: "express", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},
		{Name: "forecast", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},
		{Name: "fina_mainbz", Archiver: ArchiverPeriod, Policy: PolicyQuarterly, BackfillStart: "20070101"},

		{Name: "dividend", Archiver: ArchiverEventDate, Policy: PolicyDaily30dLookback, BackfillStart: "20070101"},

		{Name: "trade_cal", Archiver: ArchiverSnapshot, Policy: PolicySnapshot},

		{Name: "daily", Archiver: ArchiverTradeDate, Policy: PolicyDaily30dLookback, BackfillStart: "19901219"},
		{Name: "daily_basic", Archiver: ArchiverTradeDate, Policy: PolicyDaily30dLookback, BackfillStart: "20070101"},
		{Name: "adj_factor", Archiver: ArchiverTradeDate, Policy: PolicyDaily30dLookback, BackfillStart: "20070101"},

		{Name: "stock_basic", Archiver: ArchiverSnapshot, Policy: PolicySnapshot},
		{Name: "index_basic", Archiver: ArchiverSnapshot, Policy: PolicySnapshot},
		{Name: "index_classify", Archiver: ArchiverSnapshot, Policy: PolicySnapshot},

		{Name: "index_daily", Archiver: ArchiverCodeDriven, DriverSource: "COMMON_INDEXES", Policy: PolicyDailyFullReload},
		{Name: "stk_holdernumber", Archiver: ArchiverCodeDriven, DriverSource: "stock_basic", Policy: PolicyDailyFullReload},

		{Name: "index_weight", Archiver: ArchiverIndexMonthly, Policy: PolicyMonthly, BackfillStart: "20070101"},
	}}
}
