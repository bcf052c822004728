package archiver

import (
	"context"
	"strings"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
)

// Snapshot archives a single key per day, the current date — the
// trade_cal, stock_basic, index_basic, and index_classify assets (spec
// §4.5.4). Backfill is not supported and re-routes to Update.
type Snapshot struct {
	Base
	// RetentionDays bounds how many snapshot_date= directories are kept;
	// older ones are pruned after a successful write (default 30).
	RetentionDays int
	// MultiStatusFetch concatenates three calls, one per
	// list_status ∈ {L, D, P}, instead of a single unparameterized call
	// (SPEC_FULL.md §4 item 3, for stock_basic specifically).
	MultiStatusFetch bool
}

func NewSnapshot(base Base) *Snapshot {
	return &Snapshot{Base: base, RetentionDays: 30}
}

func (s *Snapshot) keyDir(key string) string {
	return s.Store.PartitionDir(s.Asset.Name, "snapshot_date="+key)
}

// Backfill is not supported for snapshots; it re-routes to Update (spec
// §4.5.4).
func (s *Snapshot) Backfill(ctx context.Context) error {
	return s.Update(ctx)
}

// Update issues one fetch (or, for stock_basic, three concatenated
// list_status fetches), writes today's snapshot_date= partition on
// success, and prunes snapshot directories older than RetentionDays.
func (s *Snapshot) Update(ctx context.Context) error {
	key := s.now().Format("20060102")
	status := s.ProcessOne(ctx, key)
	if status == StatusSuccess || status == StatusUpdated {
		s.pruneExpired(key)
	}
	return nil
}

// ProcessOne runs the snapshot fetch for today. MultiStatusFetch assets
// bypass the single-call ingestOne path and assemble their own frame from
// three vendor calls, but still finish through the shared finishIngest
// tail (checksum, atomic write, request-log record) so the write and
// logging contract stays identical to every other variant.
func (s *Snapshot) ProcessOne(ctx context.Context, key string) Status {
	p := ingestParams{
		key:             key,
		dir:             s.keyDir(key),
		requestParams:   map[string]string{},
		archivePrevious: true,
	}
	if !s.MultiStatusFetch {
		return s.ingestOne(ctx, p)
	}
	return s.processMultiStatus(ctx, p)
}

// processMultiStatus fetches list_status ∈ {L, D, P} separately and
// concatenates the results before handing off to finishIngest (SPEC_FULL.md
// §4 item 3).
func (s *Snapshot) processMultiStatus(ctx context.Context, p ingestParams) Status {
	var combined frame.Frame
	for _, listStatus := range []string{"L", "D", "P"} {
		params := map[string]string{"list_status": listStatus}
		f, vstatus := s.Client.Call(ctx, s.Asset.Name, params)
		if vstatus == vendorclient.StatusError {
			s.record(ctx, p, requestlog.StatusError, 0, "", "vendor call failed for list_status="+listStatus)
			return StatusError
		}
		combined = appendFrame(combined, f)
	}
	return s.finishIngest(ctx, p, combined, nil)
}

// appendFrame concatenates rows from b onto a, adopting a's column order
// (all three list_status calls share the same endpoint and schema).
func appendFrame(a, b frame.Frame) frame.Frame {
	if a.Columns == nil {
		a.Columns = b.Columns
	}
	a.Rows = append(a.Rows, b.Rows...)
	return a
}

// pruneExpired keeps exactly the RetentionDays most recent snapshot_date=
// directories, removing the rest (spec §4.4 "Snapshot retention", S4:
// retention_days=3 over 5 days leaves exactly 3 directories, matching
// snapshot_archiver.py).
func (s *Snapshot) pruneExpired(currentKey string) {
	names, err := s.Store.ListPartitionDirs(s.Store.AssetDir(s.Asset.Name))
	if err != nil {
		return
	}
	cutoff := s.now().AddDate(0, 0, -(s.RetentionDays - 1)).Format("20060102")
	for _, name := range names {
		if !strings.HasPrefix(name, "snapshot_date=") {
			continue
		}
		key := strings.TrimPrefix(name, "snapshot_date=")
		if key == currentKey || key >= cutoff {
			continue
		}
		s.Store.RemovePartitionDir(s.Store.PartitionDir(s.Asset.Name, name))
	}
}
