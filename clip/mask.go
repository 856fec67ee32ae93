package clip

import (
	"math"
	"sort"

	"github.com/earthrise-media/forestloss/raster"
	"github.com/paulmach/orb"
)

// window is a pixel rectangle of the source grid.
type window struct {
	col0, row0 int
	cols, rows int
}

// pixelWindow returns the smallest pixel window of h covering b, clamped to
// the grid. ok is false when nothing of b falls on the grid.
func pixelWindow(h raster.Header, b orb.Bound) (window, bool) {
	dx, dy := h.Transform.PixelSize()
	x0, y0 := h.Transform[0], h.Transform[3]

	col0 := clamp(int(math.Floor((b.Min[0]-x0)/dx)), 0, h.Width)
	col1 := clamp(int(math.Ceil((b.Max[0]-x0)/dx)), 0, h.Width)
	row0 := clamp(int(math.Floor((y0-b.Max[1])/dy)), 0, h.Height)
	row1 := clamp(int(math.Ceil((y0-b.Min[1])/dy)), 0, h.Height)
	if col1 <= col0 || row1 <= row0 {
		return window{}, false
	}
	return window{col0: col0, row0: row0, cols: col1 - col0, rows: row1 - row0}, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type edge struct {
	x0, y0, x1, y1 float64
}

func edges(g orb.MultiPolygon) []edge {
	var out []edge
	for _, poly := range g {
		for _, ring := range poly {
			n := len(ring)
			for i := 0; i < n; i++ {
				a, b := ring[i], ring[(i+1)%n]
				if a[1] == b[1] {
					continue
				}
				out = append(out, edge{a[0], a[1], b[0], b[1]})
			}
		}
	}
	return out
}

// mask copies the pixels of src inside win whose centres fall inside g,
// leaving every other pixel of the cropped grid at nodata. Inside is decided
// with the even-odd rule so interior rings punch holes.
func mask(src *raster.Grid, g orb.MultiPolygon, win window) *raster.Grid {
	dx, dy := src.Transform.PixelSize()
	x0, y0 := src.Transform[0], src.Transform[3]

	h := src.Header
	h.Width, h.Height = win.cols, win.rows
	h.Transform = raster.NewTransform(x0+float64(win.col0)*dx, y0-float64(win.row0)*dy, dx, dy)
	h.HasNoData = true
	out := raster.NewGrid(h)

	es := edges(g)
	xs := make([]float64, 0, 16)
	for r := 0; r < win.rows; r++ {
		row := win.row0 + r
		yc := y0 - (float64(row)+0.5)*dy

		xs = xs[:0]
		for _, e := range es {
			if (e.y0 <= yc) == (e.y1 <= yc) {
				continue
			}
			xs = append(xs, e.x0+(yc-e.y0)*(e.x1-e.x0)/(e.y1-e.y0))
		}
		if len(xs) < 2 {
			continue
		}
		sort.Float64s(xs)

		srcRow := src.Row(row)
		dstRow := out.Row(r)
		for k := 0; k+1 < len(xs); k += 2 {
			// columns whose centre x satisfies xs[k] <= x < xs[k+1]
			c0 := int(math.Ceil((xs[k]-x0)/dx - 0.5))
			c1 := int(math.Ceil((xs[k+1]-x0)/dx - 0.5))
			c0 = clamp(c0, win.col0, win.col0+win.cols)
			c1 = clamp(c1, win.col0, win.col0+win.cols)
			if c1 > c0 {
				copy(dstRow[c0-win.col0:c1-win.col0], srcRow[c0:c1])
			}
		}
	}
	return out
}
