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

func newTestIndexMonthly(asset manifest.Asset, fake *testvendor.Fake, indexes []string, clock func() time.Time, dir string) *IndexMonthly {
	client, err := vendorclient.NewClient(fake, vendorclient.Config{
		RequestsPerMinute: 6000,
		Retry:             vendorclient.RetryPolicy{MaxAttempts: 1},
	}, []vendorclient.EndpointConfig{{Name: asset.Name}}, nil)
	Expect(err).NotTo(HaveOccurred())

	logStore, err := requestlog.Open(filepath.Join(dir, "log.db"), time.Second)
	Expect(err).NotTo(HaveOccurred())

	return NewIndexMonthly(Base{
		Asset:  asset,
		Client: client,
		Store:  storage.New(dir, "tushare"),
		Log:    logStore,
		Clock:  clock,
	}, indexes)
}

func indexWeightFrame(tradeDate string) frame.Frame {
	return frame.Frame{
		Columns: []string{"trade_date", "con_code", "weight"},
		Rows:    []frame.Row{{"trade_date": tradeDate, "con_code": "000001.SZ", "weight": 1.23}},
	}
}

var _ = Describe("IndexMonthly", func() {
	var (
		dir   string
		fake  *testvendor.Fake
		asset manifest.Asset
		now   time.Time
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		fake = testvendor.New()
		now = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		asset = manifest.Asset{
			Name:          "index_weight",
			Archiver:      manifest.ArchiverIndexMonthly,
			Policy:        manifest.PolicyMonthly,
			BackfillStart: "20240101",
		}
	})

	It("generates one month-end per calendar month from origin through now", func() {
		months := monthEnds(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), now)
		Expect(months).To(Equal([]string{"20240131", "20240229", "20240331"}))
	})

	It("backfills the Cartesian product of indexes and months, sorted by index then month", func() {
		fake.Enqueue("index_weight", indexWeightFrame("20240131"))
		fake.Enqueue("index_weight", indexWeightFrame("20240229"))
		fake.Enqueue("index_weight", indexWeightFrame("20240331"))
		fake.Enqueue("index_weight", indexWeightFrame("20240131"))
		fake.Enqueue("index_weight", indexWeightFrame("20240229"))
		fake.Enqueue("index_weight", indexWeightFrame("20240331"))

		m := newTestIndexMonthly(asset, fake, []string{"399001.SZ", "000300.SH"}, func() time.Time { return now }, dir)
		Expect(m.Backfill(context.Background())).To(Succeed())

		calls := fake.Calls()
		Expect(calls).To(HaveLen(6))
		Expect(calls[0].Params).To(HaveKeyWithValue("index_code", "000300.SH"))
		Expect(calls[0].Params).To(HaveKeyWithValue("trade_date", "20240131"))
		Expect(calls[3].Params).To(HaveKeyWithValue("index_code", "399001.SZ"))
		Expect(m.Store.Exists(m.keyDir("000300.SH", "20240131"))).To(BeTrue())
		Expect(m.Store.Exists(m.keyDir("399001.SZ", "20240331"))).To(BeTrue())
	})

	It("skips (index_code, month_end) pairs already on disk during Backfill", func() {
		m := newTestIndexMonthly(asset, fake, []string{"000300.SH"}, func() time.Time { return now }, dir)
		fake.Enqueue("index_weight", indexWeightFrame("20240131"))
		Expect(m.ProcessOne(context.Background(), m.partitionKey("000300.SH", "20240131"))).To(Equal(StatusSuccess))

		fake.Enqueue("index_weight", indexWeightFrame("20240229"))
		fake.Enqueue("index_weight", indexWeightFrame("20240331"))
		Expect(m.Backfill(context.Background())).To(Succeed())

		Expect(fake.Calls()).To(HaveLen(3))
	})

	It("reprocesses only the last LookbackMonths months for every index on Update, overwriting in place", func() {
		m := newTestIndexMonthly(asset, fake, []string{"000300.SH"}, func() time.Time { return now }, dir)
		m.LookbackMonths = 1

		fake.Enqueue("index_weight", indexWeightFrame("20240331"))
		Expect(m.Update(context.Background())).To(Succeed())
		Expect(fake.Calls()).To(HaveLen(1))
		Expect(fake.Calls()[0].Params).To(HaveKeyWithValue("trade_date", "20240331"))
	})
})
