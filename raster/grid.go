// Package raster reads and writes the single-band loss-year grids the
// pipeline passes between stages.
package raster

import (
	"math"

	"github.com/earthrise-media/forestloss/spatial"
	"github.com/paulmach/orb"
)

// Transform is an affine geotransform in GDAL order:
// x = t[0] + col*t[1] + row*t[2], y = t[3] + col*t[4] + row*t[5].
type Transform [6]float64

// NewTransform builds a north-up transform from the upper-left corner and
// the pixel size.
func NewTransform(originX, originY, dx, dy float64) Transform {
	return Transform{originX, dx, 0, originY, 0, -dy}
}

// PixelSize returns the absolute pixel width and height in CRS units.
func (t Transform) PixelSize() (float64, float64) {
	return math.Abs(t[1]), math.Abs(t[5])
}

// Rotated reports whether the transform has rotation or shear terms.
func (t Transform) Rotated() bool {
	return t[2] != 0 || t[4] != 0
}

// Header is everything about a raster except its pixels.
type Header struct {
	Width     int
	Height    int
	Transform Transform
	CRS       spatial.CRS
	NoData    uint8
	HasNoData bool
	// Region names the boundary a clipped raster was cut to; empty otherwise.
	Region string
}

// Bounds is the footprint of the grid in CRS units.
func (h Header) Bounds() orb.Bound {
	x0 := h.Transform[0]
	y0 := h.Transform[3]
	x1 := x0 + float64(h.Width)*h.Transform[1]
	y1 := y0 + float64(h.Height)*h.Transform[5]
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// Grid is a fully loaded single-band 8-bit raster. Pix is row-major with no
// padding between rows.
type Grid struct {
	Header
	Pix []uint8
}

// NewGrid allocates a grid filled with the header's nodata value.
func NewGrid(h Header) *Grid {
	g := &Grid{Header: h, Pix: make([]uint8, h.Width*h.Height)}
	if h.NoData != 0 {
		for i := range g.Pix {
			g.Pix[i] = h.NoData
		}
	}
	return g
}

func (g *Grid) At(col, row int) uint8 {
	return g.Pix[row*g.Width+col]
}

func (g *Grid) Set(col, row int, v uint8) {
	g.Pix[row*g.Width+col] = v
}

// Row returns the backing slice of one row.
func (g *Grid) Row(row int) []uint8 {
	return g.Pix[row*g.Width : (row+1)*g.Width]
}
