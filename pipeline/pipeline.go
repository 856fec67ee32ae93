// Package pipeline runs the mosaic, clip and aggregate stages in order.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/earthrise-media/forestloss/aggregate"
	"github.com/earthrise-media/forestloss/boundary"
	"github.com/earthrise-media/forestloss/clip"
	"github.com/earthrise-media/forestloss/config"
	"github.com/earthrise-media/forestloss/metrics"
	"github.com/earthrise-media/forestloss/model"
	"github.com/earthrise-media/forestloss/mosaic"
	"github.com/earthrise-media/forestloss/raster"
	"github.com/earthrise-media/forestloss/spatial"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrAlreadyRunning means another run holds the ledger claim for this tile set.
var ErrAlreadyRunning = errors.New("pipeline already running for this tile set")

const (
	stagePipeline = "pipeline"
	stageMosaic   = "mosaic"
)

// Ledger is the run-state record store.
type Ledger interface {
	clip.Ledger
	Claim(ctx context.Context, stage, fingerprint string, lease time.Duration) (bool, error)
	LastCompleted(ctx context.Context, stage string) (string, bool, error)
}

type Pipeline struct {
	Settings   *config.Settings
	Boundaries *boundary.Loader
	Losses     aggregate.Store
	// Runs is optional; without it only the artifact presence guards apply.
	Runs Ledger
}

// Report is the user-facing outcome of a batch.
type Report struct {
	MosaicPath   string
	MosaicReused bool
	Summaries    []model.Summary
	Records      int
}

func (r *Report) String() string {
	var b strings.Builder
	if r.MosaicPath != "" {
		reuse := "built"
		if r.MosaicReused {
			reuse = "reused"
		}
		fmt.Fprintf(&b, "mosaic: %s (%s)\n", r.MosaicPath, reuse)
	}
	for _, s := range r.Summaries {
		fmt.Fprintf(&b, "%s: processed %d, skipped %d, failed %d\n",
			s.Stage, len(s.Processed), len(s.Skipped), len(s.Failed))
		if len(s.Skipped) > 0 {
			fmt.Fprintf(&b, "  skipped: %s\n", strings.Join(s.Skipped, ", "))
		}
		if len(s.Failed) > 0 {
			fmt.Fprintf(&b, "  failed: %s\n", strings.Join(s.Failed, ", "))
		}
	}
	fmt.Fprintf(&b, "records upserted: %d\n", r.Records)
	return b.String()
}

// Run executes every stage in order. Precondition failures return an error;
// region-level failures are reported in the summaries.
func (p *Pipeline) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{}
	tiles, fp, err := p.locate()
	if err != nil {
		return report, err
	}

	if p.Runs != nil {
		claimed, err := p.Runs.Claim(ctx, stagePipeline, fp, p.Settings.RunLease)
		if err != nil {
			return report, err
		}
		if !claimed {
			return report, ErrAlreadyRunning
		}
		defer func() {
			status := model.RunCompleted
			if err != nil {
				status = model.RunFailed
			}
			props := map[string]string{"tiles": fmt.Sprint(len(tiles)), "records": fmt.Sprint(report.Records)}
			if ferr := p.Runs.Finish(context.Background(), stagePipeline, fp, status, props); ferr != nil {
				zap.S().Errorf("recording run outcome: %s", ferr.Error())
			}
		}()
	}

	m, err := p.buildMosaic(ctx, tiles, fp)
	if err != nil {
		return report, err
	}
	report.MosaicPath, report.MosaicReused = m.Path, m.Reused

	clipSummary, err := p.clipRegions(ctx, m, fp)
	if err != nil {
		return report, err
	}
	report.Summaries = append(report.Summaries, clipSummary)

	aggSummary, n, err := p.aggregateLoss(ctx)
	report.Summaries = append(report.Summaries, aggSummary)
	report.Records = n
	p.push()
	return report, err
}

// Mosaic runs the mosaic stage alone.
func (p *Pipeline) Mosaic(ctx context.Context) (*mosaic.Mosaic, error) {
	tiles, fp, err := p.locate()
	if err != nil {
		return nil, err
	}
	return p.buildMosaic(ctx, tiles, fp)
}

// Clip runs the mosaic and clip stages.
func (p *Pipeline) Clip(ctx context.Context) (*Report, error) {
	report := &Report{}
	tiles, fp, err := p.locate()
	if err != nil {
		return report, err
	}
	m, err := p.buildMosaic(ctx, tiles, fp)
	if err != nil {
		return report, err
	}
	report.MosaicPath, report.MosaicReused = m.Path, m.Reused
	s, err := p.clipRegions(ctx, m, fp)
	report.Summaries = append(report.Summaries, s)
	p.push()
	return report, err
}

// Aggregate runs the aggregate stage over whatever artifacts exist.
func (p *Pipeline) Aggregate(ctx context.Context) (*Report, error) {
	s, n, err := p.aggregateLoss(ctx)
	p.push()
	return &Report{Summaries: []model.Summary{s}, Records: n}, err
}

func (p *Pipeline) locate() ([]string, string, error) {
	tiles, err := mosaic.FindTiles(p.Settings.TileDir, p.Settings.TilePattern)
	if err != nil {
		return nil, "", err
	}
	zap.S().Infof("found %d raster files for processing", len(tiles))
	fp, err := mosaic.Fingerprint(tiles)
	if err != nil {
		return nil, "", err
	}
	return tiles, fp, nil
}

func (p *Pipeline) buildMosaic(ctx context.Context, tiles []string, fp string) (*mosaic.Mosaic, error) {
	start := time.Now()
	defaultCRS, err := spatial.FromEPSG(p.Settings.RasterDefaultSRID)
	if err != nil {
		return nil, errors.Wrap(err, "RASTER_DEFAULT_SRID")
	}
	path := p.Settings.MosaicPath()

	// an existing mosaic is kept and adopted under the current tile set
	// unless rebuilding is enabled and the ledger saw it built from other tiles
	adopt := false
	if p.Runs != nil && raster.Exists(path) {
		done, err := p.Runs.Completed(ctx, stageMosaic, fp)
		if err != nil {
			return nil, err
		}
		if !done {
			last, known, err := p.Runs.LastCompleted(ctx, stageMosaic)
			if err != nil {
				return nil, err
			}
			if p.Settings.RebuildStaleMosaic && known && last != fp {
				zap.S().Warnf("mosaic at %s was built from a different tile set, rebuilding", path)
				if err := raster.Remove(path); err != nil {
					return nil, err
				}
			} else {
				adopt = true
			}
		}
	}

	b := &mosaic.Builder{OutputPath: path, DefaultCRS: defaultCRS, NoData: p.Settings.NoData}
	m, err := b.Build(tiles)
	if err != nil {
		return nil, err
	}
	metrics.RecordSummary(model.Summary{Stage: stageMosaic}, time.Since(start))

	if p.Runs != nil && (!m.Reused || adopt) {
		props := map[string]string{
			"reused": fmt.Sprint(m.Reused),
			"path":   path,
			"tiles":  fmt.Sprint(len(tiles)),
			"width":  fmt.Sprint(m.Width),
			"height": fmt.Sprint(m.Height),
			"crs":    m.CRS.String(),
		}
		if err := p.Runs.Finish(ctx, stageMosaic, fp, model.RunCompleted, props); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (p *Pipeline) clipRegions(ctx context.Context, m *mosaic.Mosaic, fp string) (model.Summary, error) {
	start := time.Now()
	policy, err := clip.ParsePolicy(p.Settings.ClipPolicy)
	if err != nil {
		return model.Summary{Stage: "clip"}, err
	}

	regions := p.Boundaries.Load(ctx)
	if len(regions) == 0 {
		zap.L().Warn("no region boundaries loaded, nothing to clip")
		return model.Summary{Stage: "clip"}, nil
	}

	c := &clip.Clipper{
		OutDir:      p.Settings.ClipDir,
		Policy:      policy,
		Workers:     p.Settings.Workers,
		Fingerprint: fp,
	}
	if p.Runs != nil {
		c.Ledger = p.Runs
	}
	_, summary, err := c.Clip(ctx, m.Grid, regions)
	metrics.RecordSummary(summary, time.Since(start))
	logSummary(summary)
	return summary, err
}

func (p *Pipeline) aggregateLoss(ctx context.Context) (model.Summary, int, error) {
	start := time.Now()
	artifacts, err := raster.ListArtifacts(p.Settings.ClipDir)
	if err != nil {
		return model.Summary{Stage: "aggregate"}, 0, err
	}
	if len(artifacts) == 0 {
		zap.L().Warn("no clipped rasters found, nothing to aggregate")
	}
	a := &aggregate.Aggregator{Store: p.Losses, Workers: p.Settings.Workers}
	records, summary, err := a.Aggregate(ctx, artifacts)
	metrics.RecordSummary(summary, time.Since(start))
	metrics.RecordUpserted(len(records))
	logSummary(summary)
	return summary, len(records), err
}

func (p *Pipeline) push() {
	if p.Settings.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(p.Settings.PushgatewayURL, "forestloss"); err != nil {
		zap.S().Warnf("pushing metrics: %s", err.Error())
	}
}

func logSummary(s model.Summary) {
	zap.L().Info("stage finished",
		zap.String("stage", s.Stage),
		zap.Int("processed", len(s.Processed)),
		zap.Int("skipped", len(s.Skipped)),
		zap.Int("failed", len(s.Failed)),
		zap.Strings("failed_regions", s.Failed),
	)
}
