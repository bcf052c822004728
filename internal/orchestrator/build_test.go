package orchestrator

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wisplidn/caiyuangungun-go/internal/archiver"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/requestlog"
	"github.com/wisplidn/caiyuangungun-go/internal/storage"
	"github.com/wisplidn/caiyuangungun-go/internal/tradingcalendar"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient"
	"github.com/wisplidn/caiyuangungun-go/internal/vendorclient/testvendor"
)

var _ = Describe("NewBuilder", func() {
	var (
		dir    string
		store  *storage.Store
		log    *requestlog.Store
		client *vendorclient.Client
		clock  func() time.Time
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		store = storage.New(dir, "tushare")
		var err error
		log, err = requestlog.Open(filepath.Join(dir, "log.db"), time.Second)
		Expect(err).NotTo(HaveOccurred())
		client, err = vendorclient.NewClient(testvendor.New(), vendorclient.Config{RequestsPerMinute: 6000}, []vendorclient.EndpointConfig{
			{Name: "income"}, {Name: "daily"}, {Name: "stock_basic"}, {Name: "index_daily"}, {Name: "index_weight"},
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		clock = func() time.Time { return time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC) }
	})

	It("builds a Period archiver for a period asset", func() {
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) { return nil, nil }, nil)
		a, err := build(manifest.Asset{Name: "income", Archiver: manifest.ArchiverPeriod})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeAssignableToTypeOf(&archiver.Period{}))
	})

	It("fails to build a trade_date archiver when the calendar loader errors", func() {
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) {
			return nil, &tradingcalendar.ErrNotIngested{AssetDir: "x"}
		}, nil)
		_, err := build(manifest.Asset{Name: "daily", Archiver: manifest.ArchiverTradeDate})
		Expect(err).To(HaveOccurred())
	})

	It("builds a TradeDate archiver once the calendar loader succeeds", func() {
		cal := &tradingcalendar.Calendar{}
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) { return cal, nil }, nil)
		a, err := build(manifest.Asset{Name: "daily", Archiver: manifest.ArchiverTradeDate})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeAssignableToTypeOf(&archiver.TradeDate{}))
	})

	It("sets MultiStatusFetch for stock_basic", func() {
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) { return nil, nil }, nil)
		a, err := build(manifest.Asset{Name: "stock_basic", Archiver: manifest.ArchiverSnapshot})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.(*archiver.Snapshot).MultiStatusFetch).To(BeTrue())
	})

	It("routes a COMMON_INDEXES driver source to the constant code source", func() {
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) { return nil, nil }, nil)
		a, err := build(manifest.Asset{Name: "index_daily", Archiver: manifest.ArchiverCodeDriven, DriverSource: "COMMON_INDEXES"})
		Expect(err).NotTo(HaveOccurred())
		codes, err := a.(*archiver.CodeDriven).Codes()
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(Equal(archiver.DefaultCommonIndexes))
	})

	It("builds an IndexMonthly archiver for index_weight", func() {
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) { return nil, nil }, nil)
		a, err := build(manifest.Asset{Name: "index_weight", Archiver: manifest.ArchiverIndexMonthly})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeAssignableToTypeOf(&archiver.IndexMonthly{}))
	})

	It("rejects an unknown archiver kind", func() {
		build := NewBuilder(client, store, log, nil, clock, func() (*tradingcalendar.Calendar, error) { return nil, nil }, nil)
		_, err := build(manifest.Asset{Name: "mystery", Archiver: manifest.ArchiverKind("bogus")})
		Expect(err).To(HaveOccurred())
	})
})
