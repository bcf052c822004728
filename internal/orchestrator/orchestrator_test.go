package orchestrator

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wisplidn/caiyuangungun-go/internal/archiver"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/qualitycheck"
)

// fakeArchiver records which methods were invoked, and can be told to
// fail Backfill/Update for one asset to exercise per-asset isolation.
type fakeArchiver struct {
	name  string
	fail  bool
	calls *[]string
}

func (f *fakeArchiver) Backfill(ctx context.Context) error {
	*f.calls = append(*f.calls, "backfill:"+f.name)
	if f.fail {
		return fmt.Errorf("boom in %s", f.name)
	}
	return nil
}

func (f *fakeArchiver) Update(ctx context.Context) error {
	*f.calls = append(*f.calls, "update:"+f.name)
	if f.fail {
		return fmt.Errorf("boom in %s", f.name)
	}
	return nil
}

func (f *fakeArchiver) ProcessOne(ctx context.Context, key string) archiver.Status {
	*f.calls = append(*f.calls, "process:"+f.name+":"+key)
	return archiver.StatusSuccess
}

type fakeQualityWorkflow struct {
	ran    bool
	report qualitycheck.Report
	err    error
}

func (f *fakeQualityWorkflow) Run(ctx context.Context) (qualitycheck.Report, error) {
	f.ran = true
	return f.report, f.err
}

var _ = Describe("Orchestrator", func() {
	var (
		calls []string
		m     manifest.Manifest
		qw    *fakeQualityWorkflow
	)

	BeforeEach(func() {
		calls = nil
		m = manifest.Manifest{Assets: []manifest.Asset{
			{Name: "income", Archiver: manifest.ArchiverPeriod},
			{Name: "daily", Archiver: manifest.ArchiverTradeDate},
		}}
		qw = &fakeQualityWorkflow{}
	})

	buildFor := func(failing string) archiver.Builder {
		return func(asset manifest.Asset) (archiver.Archiver, error) {
			return &fakeArchiver{name: asset.Name, fail: asset.Name == failing, calls: &calls}, nil
		}
	}

	It("processes every asset in manifest order on Backfill and runs the quality workflow after", func() {
		o := &Orchestrator{Manifest: m, Build: buildFor(""), QualityWorkflow: qw}
		result, err := o.Run(context.Background(), ModeBackfill)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal([]string{"backfill:income", "backfill:daily"}))
		Expect(result.AssetErrors).To(BeEmpty())
		Expect(qw.ran).To(BeTrue())
	})

	It("isolates a failing asset's error and continues the sweep", func() {
		o := &Orchestrator{Manifest: m, Build: buildFor("income"), QualityWorkflow: qw}
		result, err := o.Run(context.Background(), ModeBackfill)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal([]string{"backfill:income", "backfill:daily"}))
		Expect(result.AssetErrors).To(HaveKey("income"))
		Expect(result.AssetErrors).NotTo(HaveKey("daily"))
	})

	It("skips an asset on Update when the current month is outside its run window", func() {
		m.Assets[1].Policy.RunWindow = manifest.RunWindow{StartMonth: 1, EndMonth: 2}
		o := &Orchestrator{
			Manifest: m, Build: buildFor(""), QualityWorkflow: qw,
			Clock: func() time.Time { return time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC) },
		}
		result, err := o.Run(context.Background(), ModeUpdate)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal([]string{"update:income"}))
		Expect(result.AssetErrors).To(BeEmpty())
		Expect(qw.ran).To(BeTrue())
	})

	It("runs the quality workflow directly in quality_check mode without touching any archiver", func() {
		o := &Orchestrator{Manifest: m, Build: buildFor(""), QualityWorkflow: qw}
		result, err := o.Run(context.Background(), ModeQualityCheck)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(BeEmpty())
		Expect(qw.ran).To(BeTrue())
		Expect(result.AssetErrors).To(BeEmpty())
	})

	It("stops the sweep between assets once the context is canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := &Orchestrator{Manifest: m, Build: buildFor(""), QualityWorkflow: qw}
		_, err := o.Run(ctx, ModeBackfill)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(BeEmpty())
	})

	It("rejects an unknown mode", func() {
		o := &Orchestrator{Manifest: m, Build: buildFor(""), QualityWorkflow: qw}
		_, err := o.Run(context.Background(), Mode("bogus"))
		Expect(err).To(MatchError(ContainSubstring("unknown orchestrator mode")))
	})
})
