package spatial

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func square(minX, minY, maxX, maxY float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}}
}

func TestReconcileSameCRSReturnsCopy(t *testing.T) {
	g := square(3, 6, 4, 7)
	out, err := Reconcile(g, WGS84, WGS84)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(g) {
		t.Fatalf("expected identical geometry, got %v", out)
	}
	out[0][0][0] = orb.Point{0, 0}
	if g[0][0][0] == (orb.Point{0, 0}) {
		t.Fatal("reconcile aliased its input")
	}
}

func TestReconcileCentralMeridian(t *testing.T) {
	utm32, err := FromEPSG(32632)
	if err != nil {
		t.Fatal(err)
	}
	g := orb.MultiPolygon{{{{9, 0}, {9, 0}, {9, 0}, {9, 0}}}}
	out, err := Reconcile(g, WGS84, utm32)
	if err != nil {
		t.Fatal(err)
	}
	p := out[0][0][0]
	if math.Abs(p[0]-500000) > 1e-3 || math.Abs(p[1]) > 1e-3 {
		t.Fatalf("lon 9 lat 0 should map to the false easting, got %v", p)
	}
}

func TestReconcileRoundTrip(t *testing.T) {
	utm32, _ := FromEPSG(32632)
	g := square(7.5, 6.2, 8.1, 6.9)
	there, err := Reconcile(g, WGS84, utm32)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Reconcile(there, utm32, WGS84)
	if err != nil {
		t.Fatal(err)
	}
	for i, pt := range back[0][0] {
		want := g[0][0][i]
		if math.Abs(pt[0]-want[0]) > 1e-6 || math.Abs(pt[1]-want[1]) > 1e-6 {
			t.Fatalf("point %d: got %v want %v", i, pt, want)
		}
	}
}

func TestReconcileMissingCRS(t *testing.T) {
	if _, err := Reconcile(square(0, 0, 1, 1), CRS{}, WGS84); err == nil {
		t.Fatal("expected an error for an empty source crs")
	}
}

func TestCRSEqualIgnoresParameterOrder(t *testing.T) {
	a := FromProj4("+no_defs +datum=WGS84 +proj=longlat")
	if a.EPSG != 4326 {
		t.Fatalf("expected epsg 4326, got %d", a.EPSG)
	}
	if !a.Equal(WGS84) {
		t.Fatal("expected equal")
	}
	if _, err := FromEPSG(1); err == nil {
		t.Fatal("expected unknown srid")
	}
}
