package archiver

import (
	"context"
	"time"
)

// EventDate archives data keyed by an event's own date field rather than
// the trading calendar — dividend announcements and similar event-driven
// datasets (spec §4.5.3). Structurally identical to TradeDate except
// every calendar day is a valid key (no trading-calendar filter), an
// empty payload is legitimate on most days, and the field name used for
// both the directory prefix and the request parameter is configurable
// per asset (default "ann_date").
type EventDate struct {
	Base
	LookbackDays int
}

func NewEventDate(base Base) *EventDate {
	lookback := base.Asset.Policy.LookbackDays
	if lookback == 0 {
		lookback = 30
	}
	return &EventDate{Base: base, LookbackDays: lookback}
}

func (e *EventDate) field() string {
	return e.Asset.EventFieldOrDefault()
}

func (e *EventDate) keyDir(key string) string {
	return e.Store.PartitionDir(e.Asset.Name, e.field()+"="+key)
}

// Backfill walks every calendar day from the asset's configured origin
// through today that is not already on disk (spec §4.5.3: "every day, not
// only trading days, is a valid key").
func (e *EventDate) Backfill(ctx context.Context) error {
	start, err := time.Parse("20060102", e.Asset.BackfillStart)
	if err != nil {
		return err
	}
	today := e.now()
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		if cancelled(ctx) {
			return ctx.Err()
		}
		key := d.Format("20060102")
		if e.Store.Exists(e.keyDir(key)) {
			continue
		}
		e.ProcessOne(ctx, key)
	}
	return nil
}

// Update reprocesses the last LookbackDays calendar days unconditionally,
// overwrite semantics, mirroring TradeDate's Update but over every day
// rather than only trading days.
func (e *EventDate) Update(ctx context.Context) error {
	today := e.now()
	start := today.AddDate(0, 0, -(e.LookbackDays - 1))
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		if cancelled(ctx) {
			return ctx.Err()
		}
		e.ProcessOne(ctx, d.Format("20060102"))
	}
	return nil
}

// ProcessOne runs the shared per-key contract for one calendar day. No
// suspicious-empty guard is applied: an empty payload is semantically
// valid on most days for event-driven data (spec §4.5.3, §4.7 "no
// completeness check").
func (e *EventDate) ProcessOne(ctx context.Context, key string) Status {
	return e.ingestOne(ctx, ingestParams{
		key:             key,
		dir:             e.keyDir(key),
		requestParams:   map[string]string{e.field(): key},
		archivePrevious: true,
	})
}
