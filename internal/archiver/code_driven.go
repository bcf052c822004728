package archiver

import (
	"context"
	"sort"
)

// DefaultCommonIndexes is the built-in COMMON_INDEXES constant list. It
// supplies the codes of a code_driven asset whose driver_source is
// "COMMON_INDEXES" (index_daily) instead of another asset's snapshot, and
// the index list of the index_monthly archiver (index_weight).
var DefaultCommonIndexes = []string{
	"000300.SH", // CSI 300
	"000001.SH", // SSE Composite
	"399001.SZ", // SZSE Component
	"399006.SZ", // ChiNext
}

// CodeSource supplies the keyspace of instrument codes a CodeDriven
// archiver walks (spec §4.5.5: "sourced either from an in-memory constant
// list or from the latest stock_basic snapshot on disk, read via the
// Storage layer, not the vendor").
type CodeSource func() ([]string, error)

// ConstantCodeSource returns a CodeSource that always yields codes.
func ConstantCodeSource(codes []string) CodeSource {
	return func() ([]string, error) {
		out := make([]string, len(codes))
		copy(out, codes)
		return out, nil
	}
}

// SnapshotCodeSource reads ts_code values out of the latest snapshot
// partition of dataType (typically stock_basic), via Storage rather than
// the vendor client.
func SnapshotCodeSource(b *Base, dataType string) CodeSource {
	return func() ([]string, error) {
		assetDir := b.Store.AssetDir(dataType)
		names, err := b.Store.ListPartitionDirs(assetDir)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, &codeSourceNotIngestedError{dataType: dataType}
		}
		sort.Strings(names)
		latest := names[len(names)-1]
		f, _, err := b.Store.ReadPartition(b.Store.PartitionDir(dataType, latest))
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(f.Rows))
		var codes []string
		for _, row := range f.Rows {
			code, _ := row["ts_code"].(string)
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
		sort.Strings(codes)
		return codes, nil
	}
}

type codeSourceNotIngestedError struct{ dataType string }

func (e *codeSourceNotIngestedError) Error() string {
	return "code-driven archiver: driver source " + e.dataType + " has not been ingested yet"
}

// CodeDriven archives one partition per instrument code, fetched as one
// whole-history call per code rather than a date-windowed series (spec
// §4.5.5: index_daily, stk_holdernumber).
type CodeDriven struct {
	Base
	Codes CodeSource
}

func NewCodeDriven(base Base, codes CodeSource) *CodeDriven {
	return &CodeDriven{Base: base, Codes: codes}
}

func (c *CodeDriven) keyDir(code string) string {
	return c.Store.PartitionDir(c.Asset.Name, "ts_code="+code)
}

// Backfill and Update are identical ("pick up whatever is missing") since
// each code's data is fetched in one whole-history call with no lookback
// dimension (spec §4.5.5).
func (c *CodeDriven) Backfill(ctx context.Context) error { return c.run(ctx) }
func (c *CodeDriven) Update(ctx context.Context) error   { return c.run(ctx) }

func (c *CodeDriven) run(ctx context.Context) error {
	codes, err := c.Codes()
	if err != nil {
		return err
	}
	done, err := c.Log.SuccessfulPartitionKeys(ctx, c.Asset.Name)
	if err != nil {
		return err
	}
	doneSet := make(map[string]bool, len(done))
	for _, k := range done {
		doneSet[k] = true
	}
	for _, code := range codes {
		if cancelled(ctx) {
			return ctx.Err()
		}
		if doneSet[code] {
			continue
		}
		c.ProcessOne(ctx, code)
	}
	return nil
}

// ProcessOne fetches and stores one instrument code's full history,
// overwriting in place with an archived previous version.
func (c *CodeDriven) ProcessOne(ctx context.Context, code string) Status {
	return c.ingestOne(ctx, ingestParams{
		key:             code,
		dir:             c.keyDir(code),
		requestParams:   map[string]string{"ts_code": code},
		archivePrevious: true,
	})
}
