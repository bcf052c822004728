package archiver

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient/testvendor"
)

func newTestCodeDriven(asset manifest.Asset, fake *testvendor.Fake, codes CodeSource, dir string) *CodeDriven {
	client, err := vendorclient.NewClient(fake, vendorclient.Config{
		RequestsPerMinute: 6000,
		Retry:             vendorclient.RetryPolicy{MaxAttempts: 1},
	}, []vendorclient.EndpointConfig{{Name: asset.Name}}, nil)
	Expect(err).NotTo(HaveOccurred())

	logStore, err := requestlog.Open(filepath.Join(dir, "log.db"), time.Second)
	Expect(err).NotTo(HaveOccurred())

	base := Base{Asset: asset, Client: client, Store: storage.New(dir, "tushare"), Log: logStore}
	return NewCodeDriven(base, codes)
}

var _ = Describe("CodeDriven", func() {
	var (
		dir   string
		fake  *testvendor.Fake
		asset manifest.Asset
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		fake = testvendor.New()
		asset = manifest.Asset{
			Name:     "index_daily",
			Archiver: manifest.ArchiverCodeDriven,
			Policy:   manifest.PolicyDailyFullReload,
		}
	})

	It("processes every code from the constant source on the first run", func() {
		fake.Enqueue("index_daily", frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{{"ts_code": "000300.SH"}}})
		fake.Enqueue("index_daily", frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{{"ts_code": "000001.SH"}}})
		c := newTestCodeDriven(asset, fake, ConstantCodeSource([]string{"000300.SH", "000001.SH"}), dir)

		Expect(c.Backfill(context.Background())).To(Succeed())
		Expect(fake.Calls()).To(HaveLen(2))
	})

	It("skips codes already logged successful, leaving only the complement for Update", func() {
		fake.Enqueue("index_daily", frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{{"ts_code": "000300.SH"}}})
		c := newTestCodeDriven(asset, fake, ConstantCodeSource([]string{"000300.SH"}), dir)
		Expect(c.ProcessOne(context.Background(), "000300.SH")).To(Equal(StatusSuccess))

		fake.Enqueue("index_daily", frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{{"ts_code": "399001.SZ"}}})
		c.Codes = ConstantCodeSource([]string{"000300.SH", "399001.SZ"})
		Expect(c.Update(context.Background())).To(Succeed())

		Expect(fake.Calls()).To(HaveLen(2))
		Expect(fake.Calls()[1].Params).To(HaveKeyWithValue("ts_code", "399001.SZ"))
	})

	It("reads codes from a snapshot partition via storage, not the vendor", func() {
		store := storage.New(dir, "tushare")
		snapFrame := frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{
			{"ts_code": "000001.SZ"}, {"ts_code": "000002.SZ"}, {"ts_code": "000001.SZ"},
		}}
		meta := storage.NewMetadata("snapshot_date=20240601", "2024-06-01", snapFrame, frame.Checksum(snapFrame), time.Now())
		Expect(store.WritePartition(store.PartitionDir("stock_basic", "snapshot_date=20240601"), snapFrame, meta)).To(Succeed())

		asset.Name = "stk_holdernumber"
		fake.Enqueue("stk_holdernumber", frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{{"ts_code": "000001.SZ"}}})
		fake.Enqueue("stk_holdernumber", frame.Frame{Columns: []string{"ts_code"}, Rows: []frame.Row{{"ts_code": "000002.SZ"}}})

		client, err := vendorclient.NewClient(fake, vendorclient.Config{RequestsPerMinute: 6000, Retry: vendorclient.RetryPolicy{MaxAttempts: 1}},
			[]vendorclient.EndpointConfig{{Name: "stk_holdernumber"}}, nil)
		Expect(err).NotTo(HaveOccurred())
		logStore, err := requestlog.Open(filepath.Join(dir, "log2.db"), time.Second)
		Expect(err).NotTo(HaveOccurred())
		base := Base{Asset: asset, Client: client, Store: store, Log: logStore}
		c := NewCodeDriven(base, SnapshotCodeSource(&base, "stock_basic"))

		Expect(c.Backfill(context.Background())).To(Succeed())
		Expect(fake.Calls()).To(HaveLen(2)) // deduplicated to 2 distinct codes
	})
})
