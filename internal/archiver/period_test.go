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

func newTestPeriod(asset manifest.Asset, fake *testvendor.Fake, clock func() time.Time, dir string) *Period {
	client, err := vendorclient.NewClient(fake, vendorclient.Config{
		RequestsPerMinute: 6000,
		Retry:             vendorclient.RetryPolicy{MaxAttempts: 1},
	}, []vendorclient.EndpointConfig{{Name: asset.Name}}, nil)
	Expect(err).NotTo(HaveOccurred())

	logStore, err := requestlog.Open(filepath.Join(dir, "log.db"), time.Second)
	Expect(err).NotTo(HaveOccurred())

	return NewPeriod(Base{
		Asset:  asset,
		Client: client,
		Store:  storage.New(dir, "tushare"),
		Log:    logStore,
		Clock:  clock,
	})
}

func incomeFrame(endDate string, rowCount int) frame.Frame {
	rows := make([]frame.Row, rowCount)
	for i := range rows {
		rows[i] = frame.Row{"ts_code": "000001.SZ", "end_date": endDate, "n_income": 100 + i}
	}
	return frame.Frame{Columns: []string{"ts_code", "end_date", "n_income"}, Rows: rows}
}

var _ = Describe("Period", func() {
	var (
		dir   string
		fake  *testvendor.Fake
		asset manifest.Asset
		now   time.Time
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		fake = testvendor.New()
		now = time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
		asset = manifest.Asset{
			Name:          "income",
			Archiver:      manifest.ArchiverPeriod,
			Policy:        manifest.PolicyQuarterly,
			BackfillStart: "20230101",
		}
	})

	It("writes a new version directory on first ingest of a key", func() {
		fake.Enqueue("income", incomeFrame("20230331", 3))
		p := newTestPeriod(asset, fake, func() time.Time { return now }, dir)

		status := p.ProcessOne(context.Background(), "20230331")
		Expect(status).To(Equal(StatusSuccess))

		versionDir := filepath.Join(p.Store.AssetDir("income"), "period=20230331", "ingest_date=2024-05-15")
		Expect(p.Store.Exists(versionDir)).To(BeTrue())
	})

	It("reports no_change and writes nothing new when the checksum repeats", func() {
		fake.Enqueue("income", incomeFrame("20230331", 3))
		fake.Enqueue("income", incomeFrame("20230331", 3))
		p := newTestPeriod(asset, fake, func() time.Time { return now }, dir)

		first := p.ProcessOne(context.Background(), "20230331")
		Expect(first).To(Equal(StatusSuccess))

		later := now.AddDate(0, 0, 1)
		p.Clock = func() time.Time { return later }
		second := p.ProcessOne(context.Background(), "20230331")
		Expect(second).To(Equal(StatusNoChange))

		newVersionDir := filepath.Join(p.Store.AssetDir("income"), "period=20230331", "ingest_date="+later.Format("2006-01-02"))
		Expect(p.Store.Exists(newVersionDir)).To(BeFalse())
	})

	It("reports updated and writes a new version when the data actually changed", func() {
		fake.Enqueue("income", incomeFrame("20230331", 3))
		fake.Enqueue("income", incomeFrame("20230331", 4))
		p := newTestPeriod(asset, fake, func() time.Time { return now }, dir)

		Expect(p.ProcessOne(context.Background(), "20230331")).To(Equal(StatusSuccess))

		later := now.AddDate(0, 0, 1)
		p.Clock = func() time.Time { return later }
		Expect(p.ProcessOne(context.Background(), "20230331")).To(Equal(StatusUpdated))

		newVersionDir := filepath.Join(p.Store.AssetDir("income"), "period=20230331", "ingest_date="+later.Format("2006-01-02"))
		Expect(p.Store.Exists(newVersionDir)).To(BeTrue())
	})

	It("skips keys that already have any version during Backfill", func() {
		// With BackfillStart="20240101" and now in Q1 2024, periodKeys
		// yields exactly one key: 20240331.
		asset.BackfillStart = "20240101"
		now = time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
		fake.Enqueue("income", incomeFrame("20240331", 3))
		p := newTestPeriod(asset, fake, func() time.Time { return now }, dir)

		Expect(p.ProcessOne(context.Background(), "20240331")).To(Equal(StatusSuccess))
		Expect(fake.Calls()).To(HaveLen(1))

		// Backfill would re-call the vendor for 20240331 unless the existing
		// version directory is treated as the resume marker; the fake has
		// nothing more queued, so a second call would surface as an error.
		Expect(p.Backfill(context.Background())).To(Succeed())
		Expect(fake.Calls()).To(HaveLen(1))
	})
})
