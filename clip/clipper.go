// Package clip cuts the mosaic into one standalone raster per region.
package clip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/earthrise-media/forestloss/model"
	"github.com/earthrise-media/forestloss/raster"
	"github.com/earthrise-media/forestloss/spatial"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Policy decides how existing artifacts short-circuit clipping.
type Policy string

const (
	// PolicyBatch skips the whole batch when any artifact exists. Regions
	// added after the first clip are not picked up until artifacts are removed.
	PolicyBatch Policy = "batch"
	// PolicyRegion checks each region on its own, keyed by region and mosaic
	// fingerprint.
	PolicyRegion Policy = "region"
)

// ParsePolicy accepts the configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBatch, PolicyRegion:
		return p, nil
	}
	return "", errors.Errorf("unknown clip policy %q", s)
}

// Ledger records per-region completion under PolicyRegion.
type Ledger interface {
	Completed(ctx context.Context, stage, fingerprint string) (bool, error)
	Finish(ctx context.Context, stage, fingerprint, status string, props map[string]string) error
}

type Clipper struct {
	OutDir  string
	Policy  Policy
	Workers int
	// Ledger and Fingerprint are optional. Without them PolicyRegion falls
	// back to artifact presence alone.
	Ledger      Ledger
	Fingerprint string
}

type outcome int

const (
	processed outcome = iota
	skipped
	failed
)

type result struct {
	region  string
	path    string
	outcome outcome
}

// StageName is the ledger stage for one region's clip.
func StageName(region string) string {
	return "clip:" + region
}

// Clip writes one masked, cropped raster per region and returns the
// artifacts by region name. Failures of single regions are logged and
// reported in the summary; only batch-level problems return an error.
func (c *Clipper) Clip(ctx context.Context, mosaic *raster.Grid, regions []*model.Region) (map[string]model.Artifact, model.Summary, error) {
	summary := model.Summary{Stage: "clip"}
	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return nil, summary, errors.Wrapf(err, "creating %s", c.OutDir)
	}

	if c.Policy != PolicyRegion {
		existing, err := raster.ListArtifacts(c.OutDir)
		if err != nil {
			return nil, summary, err
		}
		if len(existing) > 0 {
			zap.S().Infof("found %d already clipped region rasters, skipping clip", len(existing))
			out := make(map[string]model.Artifact, len(existing))
			for _, a := range existing {
				out[a.Region] = a
			}
			for _, r := range regions {
				summary.Skipped = append(summary.Skipped, r.Name)
			}
			sort.Strings(summary.Skipped)
			return out, summary, nil
		}
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]result, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			results[i] = c.clipSafely(gctx, mosaic, region)
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].region < results[j].region })
	out := make(map[string]model.Artifact)
	for _, r := range results {
		switch r.outcome {
		case processed:
			summary.Processed = append(summary.Processed, r.region)
			out[r.region] = model.Artifact{Region: r.region, Path: r.path}
		case skipped:
			summary.Skipped = append(summary.Skipped, r.region)
			if r.path != "" {
				out[r.region] = model.Artifact{Region: r.region, Path: r.path}
			}
		case failed:
			summary.Failed = append(summary.Failed, r.region)
		}
	}
	return out, summary, nil
}

func (c *Clipper) clipSafely(ctx context.Context, mosaic *raster.Grid, region *model.Region) (res result) {
	res = result{region: region.Name, outcome: failed}
	defer func() {
		if p := recover(); p != nil {
			zap.S().Errorf("error clipping %s: %v", region.Name, p)
			res = result{region: region.Name, outcome: failed}
		}
	}()
	res, err := c.clipRegion(ctx, mosaic, region)
	if err != nil {
		zap.S().Errorf("error clipping %s: %s", region.Name, err.Error())
		return result{region: region.Name, outcome: failed}
	}
	return res
}

func (c *Clipper) clipRegion(ctx context.Context, mosaic *raster.Grid, region *model.Region) (result, error) {
	path := filepath.Join(c.OutDir, raster.ArtifactName(region.Name))
	res := result{region: region.Name, path: path}

	if c.Policy == PolicyRegion && raster.Exists(path) {
		done := true
		if c.Ledger != nil && c.Fingerprint != "" {
			var err error
			if done, err = c.Ledger.Completed(ctx, StageName(region.Name), c.Fingerprint); err != nil {
				return res, err
			}
		}
		if done {
			zap.S().Infof("region %s already clipped, skipping", region.Name)
			res.outcome = skipped
			return res, nil
		}
	}

	from, err := spatial.FromEPSG(region.SRID)
	if err != nil {
		return res, errors.Wrap(err, "unresolved boundary crs")
	}
	geom, err := spatial.Reconcile(region.Geometry, from, mosaic.CRS)
	if err != nil {
		return res, err
	}

	bound := geom.Bound()
	win, ok := pixelWindow(mosaic.Header, bound)
	if !bound.Intersects(mosaic.Bounds()) || !ok {
		zap.S().Infof("skipping %s: no overlap with mosaic", region.Name)
		res.outcome = skipped
		res.path = ""
		return res, nil
	}

	zap.S().Infof("clipping mosaic to region boundary: %s", region.Name)
	out := mask(mosaic, geom, win)
	out.Region = region.Name
	if err := raster.Write(path, out); err != nil {
		raster.Remove(path)
		return res, err
	}
	if c.Policy == PolicyRegion && c.Ledger != nil && c.Fingerprint != "" {
		props := map[string]string{
			"path":   path,
			"width":  fmt.Sprint(out.Width),
			"height": fmt.Sprint(out.Height),
		}
		if err := c.Ledger.Finish(ctx, StageName(region.Name), c.Fingerprint, model.RunCompleted, props); err != nil {
			zap.S().Warnf("recording clip of %s: %s", region.Name, err.Error())
		}
	}
	zap.S().Infof("saved clipped raster for %s at %s", region.Name, path)
	res.outcome = processed
	return res, nil
}
