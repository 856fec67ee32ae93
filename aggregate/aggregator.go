// Package aggregate turns clipped loss-year rasters into per-region yearly
// loss area.
package aggregate

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/earthrise-media/forestloss/model"
	"github.com/earthrise-media/forestloss/raster"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// metres per degree in the flat approximation downstream reports are
// calibrated against; not latitude corrected
const metresPerDegree = 111000.0

const squareMetresPerHectare = 10000.0

// ErrStoreUnavailable aborts the rest of a batch once the statistics store
// stops answering.
var ErrStoreUnavailable = errors.New("statistics store unavailable")

// AreaHa converts a pixel count to hectares for pixels of dx by dy degrees.
func AreaHa(count int64, dx, dy float64) float64 {
	return float64(count) * dx * dy * metresPerDegree * metresPerDegree / squareMetresPerHectare
}

// YearFromCode maps a loss-year pixel code to its calendar year.
func YearFromCode(code uint8) int {
	return model.EpochYear + int(code)
}

// Count tallies pixels per code. Code 0 (no loss) and the grid's nodata
// value are left at zero.
func Count(g *raster.Grid) [256]int64 {
	var counts [256]int64
	for _, v := range g.Pix {
		counts[v]++
	}
	counts[0] = 0
	if g.HasNoData {
		counts[g.NoData] = 0
	}
	return counts
}

// Records builds one record per year with loss in g, ordered by year.
func Records(region string, g *raster.Grid) []model.LossRecord {
	counts := Count(g)
	dx, dy := g.Transform.PixelSize()
	var out []model.LossRecord
	for code := 1; code < len(counts); code++ {
		if counts[code] == 0 {
			continue
		}
		out = append(out, model.LossRecord{
			RegionName: region,
			Year:       YearFromCode(uint8(code)),
			AreaHa:     AreaHa(counts[code], dx, dy),
		})
	}
	return out
}

// Store persists one region's records atomically.
type Store interface {
	UpsertLosses(ctx context.Context, records []model.LossRecord) error
	Ping(ctx context.Context) error
}

type Aggregator struct {
	// Store may be nil, in which case records are computed but not persisted.
	Store   Store
	Workers int
	// Read loads a clipped raster; raster.Read when nil.
	Read func(path string) (*raster.Grid, error)
}

type result struct {
	region  string
	records []model.LossRecord
	ok      bool
}

// Aggregate computes and upserts the loss records of every artifact. A
// region that fails to decode or persist is logged and counted as failed
// without stopping the others; losing the store fails the remaining batch
// and returns ErrStoreUnavailable. Records come back sorted by region and year.
func (a *Aggregator) Aggregate(ctx context.Context, artifacts []model.Artifact) ([]model.LossRecord, model.Summary, error) {
	summary := model.Summary{Stage: "aggregate"}
	workers := a.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lostOnce sync.Once
	var lost bool

	results := make([]result, len(artifacts))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, art := range artifacts {
		i, art := i, art
		g.Go(func() error {
			res := result{region: art.Region}
			defer func() { results[i] = res }()

			if ctx.Err() != nil {
				zap.S().Errorf("not aggregating %s: store unavailable", art.Region)
				return nil
			}
			records, err := a.regionRecords(art)
			if err != nil {
				zap.S().Errorf("error aggregating %s: %s", art.Region, err.Error())
				return nil
			}
			if len(records) == 0 {
				zap.S().Infof("no loss pixels in %s", art.Region)
			}
			if a.Store != nil {
				if err := a.Store.UpsertLosses(ctx, records); err != nil {
					zap.S().Errorf("error saving forest loss for %s: %s", art.Region, err.Error())
					if perr := a.Store.Ping(ctx); perr != nil {
						lostOnce.Do(func() {
							zap.S().Errorf("statistics store lost: %s", perr.Error())
							lost = true
							cancel()
						})
					}
					return nil
				}
				zap.S().Infof("inserted forest loss data for %s", art.Region)
			}
			res.records, res.ok = records, true
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].region < results[j].region })
	var out []model.LossRecord
	for _, r := range results {
		if r.ok {
			summary.Processed = append(summary.Processed, r.region)
			out = append(out, r.records...)
		} else {
			summary.Failed = append(summary.Failed, r.region)
		}
	}
	if lost {
		return out, summary, ErrStoreUnavailable
	}
	return out, summary, nil
}

func (a *Aggregator) regionRecords(art model.Artifact) (recs []model.LossRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()
	read := a.Read
	if read == nil {
		read = raster.Read
	}
	g, err := read(art.Path)
	if err != nil {
		return nil, err
	}
	return Records(art.Region, g), nil
}
