// Package archiver implements the six partition-traversal strategies that
// drive ingestion for one asset each (spec C5): Period, TradeDate,
// EventDate, Snapshot, CodeDriven, and IndexMonthly. Every variant shares
// a Base that resolves the vendor endpoint, computes checksums, writes
// through Storage, and records outcomes in the request log; each owns its
// own partition-key enumeration and Backfill/Update/ProcessOne behavior
// (spec "Archiver polymorphism... model this as a capability set").
package archiver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/metrics"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
	shlog "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/logging"
)

// Status is the outcome of processing one partition key (spec §4.5
// "process contract", step 9, plus the no_data/no_change/skipped paths).
type Status string

const (
	StatusSuccess  Status = "success"
	StatusUpdated  Status = "updated"
	StatusNoChange Status = "no_change"
	StatusNoData   Status = "no_data"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// Archiver is the capability set every variant implements (spec
// "REDESIGN FLAGS — Archiver polymorphism"): no runtime reflection, no
// dynamic dispatch by string — each concrete type implements all three
// methods directly, and the orchestrator dispatches on the manifest's
// tagged ArchiverKind.
type Archiver interface {
	Backfill(ctx context.Context) error
	Update(ctx context.Context) error
	ProcessOne(ctx context.Context, key string) Status
}

// Builder constructs the archiver for one manifest asset. Defined here,
// rather than in the orchestrator or qualitycheck package, so both can
// depend on it without depending on each other.
type Builder func(asset manifest.Asset) (Archiver, error)

// Base holds what every archiver variant is built from: the asset it
// serves, the shared vendor client, storage root, and request log (spec
// §4.5: "all archivers share a base with resolved vendor-endpoint
// binding, initialized directories and log, the checksum helper, and
// log_request").
type Base struct {
	Asset   manifest.Asset
	Client  *vendorclient.Client
	Store   *storage.Store
	Log     *requestlog.Store
	Logger  *logrus.Entry
	Clock   func() time.Time
	Metrics *metrics.Registry
}

// cancelled reports whether ctx has been canceled, letting a variant's
// Backfill/Update loop check between partitions without blocking mid-key
// (spec §5 "Cancellation": "honors a cancellation signal between
// partitions, not mid-request").
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (b *Base) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

func (b *Base) logger() *logrus.Entry {
	if b.Logger != nil {
		return b.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// ingestParams tunes one call to ingestOne.
type ingestParams struct {
	key             string
	dir             string
	requestParams   map[string]string
	expectNonEmpty  bool
	checkNoChange   bool
	archivePrevious bool
	// existedOverride lets the period archiver report whether any prior
	// version of this key exists, since its partition dir always
	// includes today's ingest_date and therefore never already exists
	// even when earlier versions of the same key do.
	existedOverride *bool
	// regressionDir is read for the row-count regression check (spec
	// Invariant 6) when it differs from dir — again, the period
	// archiver's regression baseline is the key's latest version, not
	// today's not-yet-written ingest_date subdirectory.
	regressionDir string
}

// ingestOne is the shared implementation of the per-key process contract
// (spec §4.5 "Archiver process contract (all variants)", steps 1-9):
// call the vendor, handle error/empty, compute the checksum, optionally
// skip on no_change, confirm row-count regressions, then atomically write
// and log. It returns the final Status; log-write failures are logged,
// not propagated (spec C3's failure semantics), so the return value never
// reflects a log error by itself.
func (b *Base) ingestOne(ctx context.Context, p ingestParams) Status {
	var opts []vendorclient.CallOption
	if p.expectNonEmpty {
		opts = append(opts, vendorclient.WithExpectNonEmpty())
	}
	f, vstatus := b.Client.Call(ctx, b.Asset.Name, p.requestParams, opts...)
	if vstatus == vendorclient.StatusError {
		b.record(ctx, p, requestlog.StatusError, 0, "", "vendor call failed")
		b.logger().WithFields(logrus.Fields(shlog.NewFields().
			Component("archiver").Operation("ingest").Resource("partition", p.key))).Warn("vendor call failed")
		return StatusError
	}
	return b.finishIngest(ctx, p, f, opts)
}

// finishIngest runs everything after a frame has been obtained, whether
// by the ordinary single-call path in ingestOne or by a variant (the
// snapshot archiver's multi-status concatenation) that assembles its own
// frame from several vendor calls: empty/no_data handling, checksum, the
// no-change short-circuit, the row-count regression confirming-fetch
// guard, the atomic write, and the request-log record (spec §4.5 "process
// contract", steps 4-9).
func (b *Base) finishIngest(ctx context.Context, p ingestParams, f frame.Frame, opts []vendorclient.CallOption) Status {
	log := b.logger().WithFields(logrus.Fields(shlog.NewFields().
		Component("archiver").Operation("ingest").Resource("partition", p.key)))

	if f.Empty() {
		b.writeMetadataOnly(ctx, p, f, log)
		return StatusNoData
	}

	checksum := frame.Checksum(f)

	if p.checkNoChange {
		prior, ok, err := b.Log.LastChecksum(ctx, b.Asset.Name, p.key)
		if err != nil {
			log.WithError(err).Warn("failed to read last checksum; proceeding as if changed")
		} else if ok && prior == checksum {
			b.record(ctx, p, requestlog.StatusNoChange, len(f.Rows), checksum, "")
			return StatusNoChange
		}
	}

	existed := b.Store.Exists(p.dir)
	if p.existedOverride != nil {
		existed = *p.existedOverride
	}
	regressionDir := p.dir
	if p.regressionDir != "" {
		regressionDir = p.regressionDir
	}
	if existed {
		if regressed, ok := b.rowCountRegressed(regressionDir, len(f.Rows)); ok && regressed {
			confirm, vstatus := b.Client.Call(ctx, b.Asset.Name, p.requestParams, opts...)
			if vstatus == vendorclient.StatusError || frame.Checksum(confirm) != checksum {
				b.record(ctx, p, requestlog.StatusError, len(f.Rows), checksum, "row count regression could not be confirmed")
				log.Warn("row count regression did not reproduce on confirming fetch; aborting key")
				return StatusError
			}
		}
	}

	meta := storage.NewMetadata(p.key, b.now().Format("2006-01-02"), f, checksum, b.now())
	var writeOpts []storage.WriteOption
	if p.archivePrevious {
		writeOpts = append(writeOpts, storage.WithArchivePrevious())
	}
	if err := b.Store.WritePartition(p.dir, f, meta, writeOpts...); err != nil {
		log.WithError(err).Error("failed to write partition")
		b.record(ctx, p, requestlog.StatusError, len(f.Rows), checksum, err.Error())
		return StatusError
	}
	b.Metrics.ObservePartitionWritten(b.Asset.Name)

	status := requestlog.StatusSuccess
	result := StatusSuccess
	if existed {
		status = requestlog.StatusUpdated
		result = StatusUpdated
	}
	b.record(ctx, p, status, len(f.Rows), checksum, "")
	return result
}

// rowCountRegressed reports whether newRowCount is a strict decrease from
// the row count currently on disk for this key (spec Invariant 6).
func (b *Base) rowCountRegressed(dir string, newRowCount int) (bool, bool) {
	meta, err := b.Store.ReadMetadata(dir)
	if err != nil {
		return false, false
	}
	return newRowCount < meta.RowCount, true
}

func (b *Base) writeMetadataOnly(ctx context.Context, p ingestParams, f frame.Frame, log *logrus.Entry) {
	meta := storage.NewMetadata(p.key, b.now().Format("2006-01-02"), f, "empty", b.now())
	var writeOpts []storage.WriteOption
	if p.archivePrevious {
		writeOpts = append(writeOpts, storage.WithArchivePrevious())
	}
	if err := b.Store.WritePartition(p.dir, f, meta, writeOpts...); err != nil {
		log.WithError(err).Error("failed to write metadata-only partition")
		b.record(ctx, p, requestlog.StatusError, 0, "empty", err.Error())
		return
	}
	b.record(ctx, p, requestlog.StatusNoData, 0, "empty", "")
}

func (b *Base) record(ctx context.Context, p ingestParams, status requestlog.Status, rowCount int, checksum, errMsg string) {
	paramsJSON, _ := json.Marshal(p.requestParams)
	b.Log.LogAndSwallow(ctx, requestlog.Entry{
		DataType:     b.Asset.Name,
		PartitionKey: p.key,
		IngestDate:   b.now().Format("2006-01-02"),
		Params:       string(paramsJSON),
		RowCount:     rowCount,
		Checksum:     checksum,
		Status:       status,
		ErrorMessage: errMsg,
	}, b.logger())
}
