package qualitycheck

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wisplidn/caiyuangungun-go/internal/archiver"
	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
)

func openTestLog(dir string) *requestlog.Store {
	log, err := requestlog.Open(filepath.Join(dir, "log.db"), time.Second)
	Expect(err).NotTo(HaveOccurred())
	return log
}

func sampleFrame() frame.Frame {
	return frame.Frame{
		Columns: []string{"ts_code", "end_date", "n_income"},
		Rows:    []frame.Row{{"ts_code": "000001.SZ", "end_date": "20240331", "n_income": 100}},
	}
}

// recordPeriod writes both sides of "complete": a period=<key>/ingest_date=
// version directory on disk, and a matching success log entry.
func recordPeriod(store *storage.Store, log *requestlog.Store, dataType, key string) {
	f := sampleFrame()
	meta := storage.Metadata{PartitionKey: key, IngestDate: "2024-05-15", RowCount: len(f.Rows), Checksum: frame.Checksum(f), SchemaFields: f.Columns}
	dir := store.PartitionDir(dataType, filepath.Join(fmtPeriod(key), "ingest_date=2024-05-15"))
	Expect(store.WritePartition(dir, f, meta)).To(Succeed())
	Expect(log.Upsert(context.Background(), requestlog.Entry{
		DataType: dataType, PartitionKey: key, IngestDate: "2024-05-15",
		RowCount: meta.RowCount, Checksum: meta.Checksum, Status: requestlog.StatusSuccess,
	})).To(Succeed())
}

func fmtPeriod(key string) string { return "period=" + key }

var _ = Describe("Checker", func() {
	var (
		dir   string
		store *storage.Store
		log   *requestlog.Store
		now   time.Time
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		store = storage.New(dir, "tushare")
		log = openTestLog(dir)
		now = time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	})

	Describe("period completeness", func() {
		var asset manifest.Asset

		BeforeEach(func() {
			asset = manifest.Asset{Name: "income", Archiver: manifest.ArchiverPeriod, BackfillStart: "20230101"}
		})

		It("flags an expected key with no recorded ingest", func() {
			c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
			report := c.sweep(context.Background())
			Expect(report.OK()).To(BeFalse())
			Expect(report.Failures).To(ContainElement(Failure{Asset: "income", Key: "20240331", Reason: "no successful or updated ingest record"}))
		})

		It("reports no failure when every expected key is recorded and on disk", func() {
			recordPeriod(store, log, "income", "20240630")
			recordPeriod(store, log, "income", "20240331")
			recordPeriod(store, log, "income", "20231231")
			recordPeriod(store, log, "income", "20230930")
			c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
			report := c.sweep(context.Background())
			for _, f := range report.Failures {
				Expect(f.Asset).NotTo(Equal("income"))
			}
		})

		It("flags a recorded key whose on-disk checksum no longer matches metadata", func() {
			recordPeriod(store, log, "income", "20240331")
			metaPath := store.PartitionDir("income", filepath.Join("period=20240331", "ingest_date=2024-05-15"))
			meta, err := store.ReadMetadata(metaPath)
			Expect(err).NotTo(HaveOccurred())
			meta.Checksum = "deadbeef"
			Expect(store.WritePartition(metaPath, sampleFrame(), meta)).To(Succeed())

			c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
			report := c.sweep(context.Background())
			found := false
			for _, f := range report.Failures {
				if f.Asset == "income" && f.Key == "20240331" {
					found = true
					Expect(f.Reason).To(ContainSubstring("checksum mismatch"))
				}
			}
			Expect(found).To(BeTrue())
		})
	})

	Describe("snapshot completeness", func() {
		var asset manifest.Asset

		BeforeEach(func() {
			asset = manifest.Asset{Name: "stock_basic", Archiver: manifest.ArchiverSnapshot}
		})

		It("flags a missing snapshot partition", func() {
			c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
			report := c.sweep(context.Background())
			Expect(report.Failures).To(ContainElement(Failure{Asset: "stock_basic", Reason: "no snapshot partition found"}))
		})

		It("flags an empty latest snapshot", func() {
			dir := store.PartitionDir("stock_basic", "snapshot_date=20240515")
			Expect(store.WritePartition(dir, frame.Frame{}, storage.Metadata{PartitionKey: "20240515", Checksum: "empty"})).To(Succeed())
			c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
			report := c.sweep(context.Background())
			Expect(report.Failures).To(ContainElement(HaveField("Reason", "latest snapshot is empty")))
		})

		It("reports no failure for a non-empty latest snapshot", func() {
			f := sampleFrame()
			dir := store.PartitionDir("stock_basic", "snapshot_date=20240515")
			Expect(store.WritePartition(dir, f, storage.Metadata{PartitionKey: "20240515", RowCount: len(f.Rows), Checksum: frame.Checksum(f)})).To(Succeed())
			c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
			report := c.sweep(context.Background())
			Expect(report.OK()).To(BeTrue())
		})
	})

	It("never produces a failure for an event_date asset", func() {
		asset := manifest.Asset{Name: "dividend", Archiver: manifest.ArchiverEventDate}
		c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
		report := c.sweep(context.Background())
		Expect(report.Failures).To(BeEmpty())
	})

	It("flags a trade_date asset when no trading calendar is loaded", func() {
		asset := manifest.Asset{Name: "daily", Archiver: manifest.ArchiverTradeDate}
		c := &Checker{Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}}, Store: store, Log: log, Clock: func() time.Time { return now }}
		report := c.sweep(context.Background())
		Expect(report.Failures).To(ContainElement(HaveField("Reason", ContainSubstring("trading calendar not loaded"))))
	})

	Describe("Run's refetch-then-recheck workflow", func() {
		It("issues a targeted refetch for each failure and returns the rechecked report", func() {
			asset := manifest.Asset{Name: "income", Archiver: manifest.ArchiverPeriod, BackfillStart: "20240101"}
			processed := []string{}
			build := func(a manifest.Asset) (archiver.Archiver, error) {
				return &refetchStub{onProcessOne: func(key string) {
					processed = append(processed, key)
					recordPeriod(store, log, a.Name, key)
				}}, nil
			}
			c := &Checker{
				Manifest: manifest.Manifest{Assets: []manifest.Asset{asset}},
				Store:    store, Log: log, Build: build,
				Clock: func() time.Time { return now },
			}
			report, err := c.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(processed).To(ContainElement("20240331"))
			Expect(report.OK()).To(BeTrue())
		})
	})
})

// refetchStub is a minimal archiver.Archiver for exercising Checker.refetch.
type refetchStub struct {
	onProcessOne func(key string)
}

func (s *refetchStub) Backfill(ctx context.Context) error { return nil }
func (s *refetchStub) Update(ctx context.Context) error   { return nil }
func (s *refetchStub) ProcessOne(ctx context.Context, key string) archiver.Status {
	s.onProcessOne(key)
	return archiver.StatusSuccess
}
