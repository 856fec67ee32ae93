// Package mosaic merges loss-year tiles into one continuous raster.
package mosaic

import (
	"math"

	"github.com/earthrise-media/forestloss/raster"
	"github.com/earthrise-media/forestloss/spatial"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// relative tolerance when comparing tile resolutions and grid alignment
const alignTolerance = 1e-6

// Mosaic is the merged raster and where it lives.
type Mosaic struct {
	*raster.Grid
	Path   string
	Reused bool
}

// Builder merges tiles into the raster at OutputPath.
type Builder struct {
	OutputPath string
	// DefaultCRS is assumed for tiles that carry no coordinate reference.
	DefaultCRS spatial.CRS
	// NoData fills cells no tile covers, unless the first tile declares its own.
	NoData uint8
}

// Build returns the mosaic at OutputPath if one exists, otherwise merges the
// tiles in the given order and writes it. Where tiles overlap the one
// processed last wins.
func (b *Builder) Build(tiles []string) (*Mosaic, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}
	if raster.Exists(b.OutputPath) {
		zap.S().Infof("mosaic already exists at %s, skipping merge", b.OutputPath)
		g, err := raster.Read(b.OutputPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading existing mosaic")
		}
		if g.CRS.IsZero() {
			g.CRS = b.DefaultCRS
		}
		return &Mosaic{Grid: g, Path: b.OutputPath, Reused: true}, nil
	}

	headers := make([]raster.Header, len(tiles))
	for i, p := range tiles {
		h, err := raster.ReadHeader(p)
		if err != nil {
			return nil, errors.Wrapf(err, "tile %s", p)
		}
		if h.CRS.IsZero() {
			h.CRS = b.DefaultCRS
		}
		headers[i] = h
	}
	out, err := b.layout(tiles, headers)
	if err != nil {
		return nil, err
	}
	zap.S().Infof("merging %d tiles into a %dx%d mosaic", len(tiles), out.Width, out.Height)

	g := raster.NewGrid(out)
	for i, p := range tiles {
		tile, err := raster.Read(p)
		if err != nil {
			return nil, errors.Wrapf(err, "tile %s", p)
		}
		tile.Header = headers[i]
		paste(g, tile)
		zap.L().Debug("merged tile", zap.String("tile", p), zap.Int("index", i))
	}

	if err := raster.Write(b.OutputPath, g); err != nil {
		return nil, errors.Wrap(err, "writing mosaic")
	}
	zap.S().Infof("mosaic saved to %s", b.OutputPath)
	return &Mosaic{Grid: g, Path: b.OutputPath}, nil
}

// layout computes the merged header: union extent at the common resolution.
func (b *Builder) layout(tiles []string, headers []raster.Header) (raster.Header, error) {
	first := headers[0]
	dx, dy := first.Transform.PixelSize()
	bound := first.Bounds()
	for i, h := range headers[1:] {
		if !h.CRS.Equal(first.CRS) {
			return raster.Header{}, errors.Errorf("tile %s is in %s, expected %s", tiles[i+1], h.CRS, first.CRS)
		}
		hx, hy := h.Transform.PixelSize()
		if !near(hx, dx) || !near(hy, dy) {
			return raster.Header{}, errors.Errorf("tile %s resolution %gx%g differs from %gx%g", tiles[i+1], hx, hy, dx, dy)
		}
		bound = bound.Union(h.Bounds())
	}

	out := raster.Header{
		Width:     int(math.Round((bound.Max[0] - bound.Min[0]) / dx)),
		Height:    int(math.Round((bound.Max[1] - bound.Min[1]) / dy)),
		Transform: raster.NewTransform(bound.Min[0], bound.Max[1], dx, dy),
		CRS:       first.CRS,
		NoData:    b.NoData,
		HasNoData: true,
	}
	if first.HasNoData {
		out.NoData = first.NoData
	}
	return out, nil
}

// paste copies a tile into the mosaic at its grid offset. Tile pixels equal
// to the tile's declared nodata leave the mosaic untouched.
func paste(dst *raster.Grid, tile *raster.Grid) {
	dx, dy := dst.Transform.PixelSize()
	col0 := int(math.Round((tile.Transform[0] - dst.Transform[0]) / dx))
	row0 := int(math.Round((dst.Transform[3] - tile.Transform[3]) / dy))
	for r := 0; r < tile.Height; r++ {
		row := row0 + r
		if row < 0 || row >= dst.Height {
			continue
		}
		src := tile.Row(r)
		out := dst.Row(row)
		for c, v := range src {
			col := col0 + c
			if col < 0 || col >= dst.Width {
				continue
			}
			if tile.HasNoData && v == tile.NoData {
				continue
			}
			out[col] = v
		}
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= alignTolerance*math.Max(math.Abs(a), math.Abs(b))
}
