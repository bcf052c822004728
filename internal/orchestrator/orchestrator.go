// Package orchestrator drives the manifest through one of three modes —
// backfill, update, quality_check — isolating failures per asset so one
// bad dataset never aborts the rest of the run (spec C7, §4.7).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wisplidn/caiyuangungun-go/internal/archiver"
	"github.com/wisplidn/caiyuangungun-go/internal/manifest"
	"github.com/wisplidn/caiyuangungun-go/internal/qualitycheck"
	shlog "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/logging"
)

// Mode selects which of the orchestrator's three run shapes to execute
// (spec §4.7: "Modes: backfill, update, quality_check").
type Mode string

const (
	ModeBackfill     Mode = "backfill"
	ModeUpdate       Mode = "update"
	ModeQualityCheck Mode = "quality_check"
)

// QualityWorkflow is the capability the orchestrator invokes automatically
// after every ingestion sweep, and directly in quality_check mode (spec
// §4.7). *qualitycheck.Checker implements it; tests substitute a stub.
type QualityWorkflow interface {
	Run(ctx context.Context) (qualitycheck.Report, error)
}

// Orchestrator sweeps manifest.Manifest's assets in declared order,
// constructing each one's archiver via Build and invoking the method that
// matches the run mode (spec §5: "manifest-declared order is preserved in
// the baseline sequential model").
type Orchestrator struct {
	Manifest        manifest.Manifest
	Build           archiver.Builder
	QualityWorkflow QualityWorkflow
	Clock           func() time.Time
	Logger          *logrus.Entry
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Result is what one orchestrator Run produced: the quality report from
// either the automatic post-sweep workflow (backfill/update modes) or the
// direct invocation (quality_check mode), plus the per-asset errors the
// sweep isolated rather than propagated.
type Result struct {
	AssetErrors   map[string]error
	QualityReport qualitycheck.Report
}

// Run executes mode to completion. No per-asset error aborts the run —
// each is logged and the sweep proceeds to the next asset (spec §7: "No
// exception propagates across the asset boundary in orchestrator modes").
// The returned error is non-nil only for an unknown mode. A canceled
// context observed between assets ends the sweep early without an error.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (Result, error) {
	switch mode {
	case ModeBackfill:
		result := Result{AssetErrors: o.sweep(ctx, func(a archiver.Archiver) error { return a.Backfill(ctx) })}
		result.QualityReport = o.runQualityWorkflow(ctx)
		return result, nil
	case ModeUpdate:
		result := Result{AssetErrors: o.sweepWithRunWindow(ctx)}
		result.QualityReport = o.runQualityWorkflow(ctx)
		return result, nil
	case ModeQualityCheck:
		return Result{AssetErrors: map[string]error{}, QualityReport: o.runQualityWorkflow(ctx)}, nil
	default:
		return Result{}, fmt.Errorf("unknown orchestrator mode %q", mode)
	}
}

// sweep constructs and invokes fn for every manifest asset in order,
// collecting (not propagating) any per-asset error, and stopping between
// assets if ctx is canceled (spec §5 "Cancellation").
func (o *Orchestrator) sweep(ctx context.Context, fn func(archiver.Archiver) error) map[string]error {
	errs := make(map[string]error)
	for _, asset := range o.Manifest.Assets {
		if cancelled(ctx) {
			break
		}
		log := o.logger().WithFields(logrus.Fields(shlog.NewFields().
			Component("orchestrator").Operation("sweep").Resource("asset", asset.Name)))

		a, err := o.Build(asset)
		if err != nil {
			log.WithError(err).Error("failed to construct archiver; skipping asset")
			errs[asset.Name] = err
			continue
		}
		if err := fn(a); err != nil {
			log.WithError(err).Error("asset processing failed; continuing with next asset")
			errs[asset.Name] = err
			continue
		}
		log.Info("asset processed")
	}
	return errs
}

// sweepWithRunWindow is sweep specialized for update mode: an asset whose
// policy names a run window that excludes the current month is skipped
// entirely, without constructing its archiver (spec §4.7: "skip if
// current month is outside the configured run window").
func (o *Orchestrator) sweepWithRunWindow(ctx context.Context) map[string]error {
	errs := make(map[string]error)
	month := int(o.now().Month())
	for _, asset := range o.Manifest.Assets {
		if cancelled(ctx) {
			break
		}
		if !asset.Policy.RunWindow.Contains(month) {
			o.logger().WithFields(logrus.Fields(shlog.NewFields().
				Component("orchestrator").Operation("sweep").Resource("asset", asset.Name))).
				Debug("skipping asset: current month outside run window")
			continue
		}
		log := o.logger().WithFields(logrus.Fields(shlog.NewFields().
			Component("orchestrator").Operation("sweep").Resource("asset", asset.Name)))

		a, err := o.Build(asset)
		if err != nil {
			log.WithError(err).Error("failed to construct archiver; skipping asset")
			errs[asset.Name] = err
			continue
		}
		if err := a.Update(ctx); err != nil {
			log.WithError(err).Error("asset update failed; continuing with next asset")
			errs[asset.Name] = err
			continue
		}
		log.Info("asset updated")
	}
	return errs
}

// runQualityWorkflow invokes the quality checker, logging but not
// propagating its error — on a workflow failure the report the workflow
// returned alongside the error is passed through as is, and the run is
// not aborted (spec §4.7: "the quality workflow is invoked automatically").
func (o *Orchestrator) runQualityWorkflow(ctx context.Context) qualitycheck.Report {
	if o.QualityWorkflow == nil {
		return qualitycheck.Report{}
	}
	report, err := o.QualityWorkflow.Run(ctx)
	if err != nil {
		o.logger().WithError(err).Error("quality workflow failed")
	}
	return report
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
