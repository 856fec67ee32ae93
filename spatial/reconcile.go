package spatial

import (
	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// Reconcile reprojects a boundary geometry from its native CRS into target.
// Raster pixels are never resampled; vector geometry is always the side that
// moves. The input is not modified.
func Reconcile(g orb.MultiPolygon, from, target CRS) (orb.MultiPolygon, error) {
	if from.IsZero() || target.IsZero() {
		return nil, errors.New("reconcile: missing coordinate reference")
	}
	if from.Equal(target) {
		return g.Clone(), nil
	}

	src, err := proj.Parse(from.Proj4)
	if err != nil {
		return nil, errors.Wrapf(err, "reconcile: parsing %s", from)
	}
	dst, err := proj.Parse(target.Proj4)
	if err != nil {
		return nil, errors.Wrapf(err, "reconcile: parsing %s", target)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, errors.Wrapf(err, "reconcile: %s -> %s", from, target)
	}

	out := make(orb.MultiPolygon, len(g))
	for i, poly := range g {
		p := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			for k, pt := range ring {
				x, y, err := t(pt[0], pt[1])
				if err != nil {
					return nil, errors.Wrapf(err, "reconcile: point %v", pt)
				}
				r[k] = orb.Point{x, y}
			}
			p[j] = r
		}
		out[i] = p
	}
	return out, nil
}
