package clip

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/earthrise-media/forestloss/model"
	"github.com/earthrise-media/forestloss/raster"
	"github.com/earthrise-media/forestloss/spatial"
	"github.com/paulmach/orb"
)

// testMosaic is a 10x10 grid of unit pixels anchored at (0, 10) whose
// pixels hold row+1.
func testMosaic() *raster.Grid {
	g := raster.NewGrid(raster.Header{
		Width:     10,
		Height:    10,
		Transform: raster.NewTransform(0, 10, 1, 1),
		CRS:       spatial.WGS84,
		HasNoData: true,
	})
	for r := 0; r < 10; r++ {
		for c := 0; c < 10; c++ {
			g.Set(c, r, uint8(r+1))
		}
	}
	return g
}

func rect(minX, minY, maxX, maxY float64) orb.Ring {
	return orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}
}

func region(name string, srid int, polys ...orb.Polygon) *model.Region {
	return &model.Region{Name: name, SRID: srid, Geometry: orb.MultiPolygon(polys)}
}

func TestMaskCropsToGeometryBounds(t *testing.T) {
	src := testMosaic()
	g := orb.MultiPolygon{{rect(2, 2, 5, 6)}}
	win, ok := pixelWindow(src.Header, g.Bound())
	if !ok {
		t.Fatal("expected a window")
	}
	out := mask(src, g, win)
	if out.Width != 3 || out.Height != 4 {
		t.Fatalf("size %dx%d", out.Width, out.Height)
	}
	if out.Transform[0] != 2 || out.Transform[3] != 6 {
		t.Fatalf("origin %v,%v", out.Transform[0], out.Transform[3])
	}
	for r := 0; r < out.Height; r++ {
		for c := 0; c < out.Width; c++ {
			if v := out.At(c, r); v != uint8(r+5) {
				t.Fatalf("pixel %d,%d = %d want %d", c, r, v, r+5)
			}
		}
	}
}

func TestMaskUsesPixelCentres(t *testing.T) {
	src := testMosaic()
	tri := orb.MultiPolygon{{{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}}
	win, _ := pixelWindow(src.Header, tri.Bound())
	out := mask(src, tri, win)
	for r := 0; r < 10; r++ {
		for c := 0; c < 10; c++ {
			v := out.At(c, r)
			if c < r && v != uint8(r+1) {
				t.Fatalf("inside pixel %d,%d = %d", c, r, v)
			}
			if c >= r && v != 0 {
				t.Fatalf("outside pixel %d,%d = %d want nodata", c, r, v)
			}
		}
	}
}

func TestMaskHonoursHoles(t *testing.T) {
	src := testMosaic()
	g := orb.MultiPolygon{{rect(0, 0, 10, 10), rect(4, 4, 6, 6)}}
	win, _ := pixelWindow(src.Header, g.Bound())
	out := mask(src, g, win)
	for r := 4; r <= 5; r++ {
		for c := 4; c <= 5; c++ {
			if out.At(c, r) != 0 {
				t.Fatalf("hole pixel %d,%d = %d", c, r, out.At(c, r))
			}
		}
	}
	if out.At(3, 4) != 5 || out.At(6, 5) != 6 {
		t.Fatal("pixels beside the hole were masked")
	}
}

func TestClipSkipsRegionsOutsideMosaic(t *testing.T) {
	dir := t.TempDir()
	c := &Clipper{OutDir: dir, Policy: PolicyBatch, Workers: 2}
	regions := []*model.Region{
		region("Far Away", 4326, orb.Polygon{rect(50, 50, 60, 60)}),
		region("Kogi", 4326, orb.Polygon{rect(1, 1, 4, 4)}),
	}
	out, sum, err := c.Clip(context.Background(), testMosaic(), regions)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["Far Away"]; ok {
		t.Fatal("region outside the mosaic produced an artifact")
	}
	if raster.Exists(filepath.Join(dir, "Far_Away_lossyear.tif")) {
		t.Fatal("artifact written for a rejected region")
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0] != "Far Away" || len(sum.Failed) != 0 {
		t.Fatalf("summary %+v", sum)
	}
	a, ok := out["Kogi"]
	if !ok {
		t.Fatal("missing Kogi artifact")
	}
	g, err := raster.Read(a.Path)
	if err != nil {
		t.Fatal(err)
	}
	if g.Width != 3 || g.Height != 3 {
		t.Fatalf("size %dx%d", g.Width, g.Height)
	}
	if g.Region != "Kogi" {
		t.Fatalf("region %q", g.Region)
	}
}

func TestClipRecordsExactRegionName(t *testing.T) {
	dir := t.TempDir()
	c := &Clipper{OutDir: dir, Policy: PolicyBatch}
	_, _, err := c.Clip(context.Background(), testMosaic(), []*model.Region{
		region("Ife_Central/Osun", 4326, orb.Polygon{rect(1, 1, 3, 3)}),
	})
	if err != nil {
		t.Fatal(err)
	}
	arts, err := raster.ListArtifacts(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 || arts[0].Region != "Ife_Central/Osun" {
		t.Fatalf("artifacts %+v", arts)
	}
}

func TestClipIsolatesRegionFailures(t *testing.T) {
	c := &Clipper{OutDir: t.TempDir(), Policy: PolicyBatch, Workers: 4}
	regions := []*model.Region{
		region("Zamfara", 4326, orb.Polygon{rect(5, 5, 9, 9)}),
		region("Broken", 999999, orb.Polygon{rect(1, 1, 2, 2)}),
		region("Abia", 4326, orb.Polygon{rect(0, 0, 2, 2)}),
	}
	out, sum, err := c.Clip(context.Background(), testMosaic(), regions)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Failed) != 1 || sum.Failed[0] != "Broken" {
		t.Fatalf("failed %v", sum.Failed)
	}
	if len(sum.Processed) != 2 || sum.Processed[0] != "Abia" || sum.Processed[1] != "Zamfara" {
		t.Fatalf("processed %v", sum.Processed)
	}
	if len(out) != 2 {
		t.Fatalf("artifacts %v", out)
	}
}

func TestClipReprojectsBoundary(t *testing.T) {
	utm, _ := spatial.FromEPSG(32632)
	wgs := orb.MultiPolygon{{rect(2.2, 2.2, 4.8, 5.8)}}
	projected, err := spatial.Reconcile(wgs, spatial.WGS84, utm)
	if err != nil {
		t.Fatal(err)
	}
	c := &Clipper{OutDir: t.TempDir(), Policy: PolicyBatch}
	out, sum, err := c.Clip(context.Background(), testMosaic(), []*model.Region{
		{Name: "Projected", SRID: 32632, Geometry: projected},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Processed) != 1 {
		t.Fatalf("summary %+v", sum)
	}
	g, err := raster.Read(out["Projected"].Path)
	if err != nil {
		t.Fatal(err)
	}
	if g.Width != 3 || g.Height != 4 {
		t.Fatalf("size %dx%d", g.Width, g.Height)
	}
}

func TestClipBatchGuardSkipsEverything(t *testing.T) {
	dir := t.TempDir()
	if err := raster.Write(filepath.Join(dir, "Lagos_lossyear.tif"), testMosaic()); err != nil {
		t.Fatal(err)
	}
	c := &Clipper{OutDir: dir, Policy: PolicyBatch}
	out, sum, err := c.Clip(context.Background(), testMosaic(), []*model.Region{
		region("Lagos", 4326, orb.Polygon{rect(0, 0, 2, 2)}),
		region("Kano", 4326, orb.Polygon{rect(3, 3, 5, 5)}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Skipped) != 2 || len(sum.Processed) != 0 {
		t.Fatalf("summary %+v", sum)
	}
	if _, ok := out["Kano"]; ok {
		t.Fatal("batch guard should not clip new regions")
	}
	if raster.Exists(filepath.Join(dir, "Kano_lossyear.tif")) {
		t.Fatal("Kano was clipped")
	}
}

type memLedger map[string]string

func (m memLedger) Completed(_ context.Context, stage, fp string) (bool, error) {
	return m[stage] == fp, nil
}

func (m memLedger) Finish(_ context.Context, stage, fp, status string, _ map[string]string) error {
	if status == model.RunCompleted {
		m[stage] = fp
	}
	return nil
}

func TestClipRegionPolicyFillsInNewRegions(t *testing.T) {
	dir := t.TempDir()
	ledger := memLedger{}
	c := &Clipper{OutDir: dir, Policy: PolicyRegion, Ledger: ledger, Fingerprint: "m1"}
	lagos := region("Lagos", 4326, orb.Polygon{rect(0, 0, 2, 2)})
	if _, _, err := c.Clip(context.Background(), testMosaic(), []*model.Region{lagos}); err != nil {
		t.Fatal(err)
	}
	_, sum, err := c.Clip(context.Background(), testMosaic(), []*model.Region{
		lagos,
		region("Kano", 4326, orb.Polygon{rect(3, 3, 5, 5)}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Processed) != 1 || sum.Processed[0] != "Kano" {
		t.Fatalf("processed %v", sum.Processed)
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0] != "Lagos" {
		t.Fatalf("skipped %v", sum.Skipped)
	}

	// a new mosaic fingerprint invalidates earlier clips
	c.Fingerprint = "m2"
	_, sum, _ = c.Clip(context.Background(), testMosaic(), []*model.Region{lagos})
	if len(sum.Processed) != 1 {
		t.Fatalf("expected Lagos to be clipped again, got %+v", sum)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("region"); err != nil || p != PolicyRegion {
		t.Fatalf("%v %v", p, err)
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Fatal("expected an error")
	}
}
