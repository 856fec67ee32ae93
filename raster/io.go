package raster

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/earthrise-media/forestloss/spatial"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedPixels is returned for rasters that are not single-band 8-bit.
var ErrUnsupportedPixels = errors.New("unsupported pixel layout")

// sidecar suffixes written next to every raster
const (
	WorldFileExt = ".tfw"
	AuxFileExt   = ".aux.xml"
)

// ReadHeader reads the size and georeferencing of a raster without decoding
// its pixels. Georeferencing comes from the GeoTIFF tags, overridden by a
// world file and then by a GDAL aux.xml sidecar when present.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, errors.Wrap(err, "opening raster")
	}
	defer f.Close()

	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return Header{}, errors.Wrapf(err, "decoding %s", path)
	}
	h := Header{Width: cfg.Width, Height: cfg.Height}

	tags, err := readGeoTags(f)
	if err != nil {
		return Header{}, errors.Wrapf(err, "reading geotiff tags of %s", path)
	}
	var haveTransform bool
	if t, ok := tags.transform(); ok {
		h.Transform = t
		haveTransform = true
	}
	if code := tags.epsg(); code != 0 {
		if crs, err := spatial.FromEPSG(code); err == nil {
			h.CRS = crs
		} else {
			zap.S().Warnf("raster %s: %s", path, err.Error())
		}
	}
	h.NoData, h.HasNoData = tags.noDataValue()

	if t, ok, err := readWorldFile(path + WorldFileExt); err != nil {
		return Header{}, err
	} else if ok {
		h.Transform = t
		haveTransform = true
	}
	if ok, err := readAux(path+AuxFileExt, &h); err != nil {
		return Header{}, err
	} else if ok {
		haveTransform = true
	}

	if !haveTransform {
		return Header{}, errors.Errorf("%s has no georeferencing", path)
	}
	if h.Transform.Rotated() {
		return Header{}, errors.Errorf("%s has a rotated geotransform", path)
	}
	return h, nil
}

// Read loads a raster and all of its pixels into memory.
func Read(path string) (*Grid, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening raster")
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	pix, err := pixels(img)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return &Grid{Header: h, Pix: pix}, nil
}

func pixels(img image.Image) ([]uint8, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)
	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], m.Pix[y*m.Stride:y*m.Stride+w])
		}
	case *image.Paletted:
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], m.Pix[y*m.Stride:y*m.Stride+w])
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := m.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				if v > 255 {
					return nil, errors.Wrapf(ErrUnsupportedPixels, "value %d does not fit a loss-year code", v)
				}
				out[y*w+x] = uint8(v)
			}
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedPixels, "%T", img)
	}
	return out, nil
}

// Write stores the grid as a deflate-compressed TIFF with a world file and an
// aux.xml sidecar. Every file goes through a temp name and a rename; the TIFF
// is renamed last so its presence means the sidecars are complete.
func Write(path string, g *Grid) error {
	if len(g.Pix) != g.Width*g.Height {
		return errors.Errorf("grid has %d pixels, want %dx%d", len(g.Pix), g.Width, g.Height)
	}
	if err := writeAtomic(path+WorldFileExt, func(f *os.File) error {
		return writeWorldFile(f, g.Transform)
	}); err != nil {
		return err
	}
	if err := writeAtomic(path+AuxFileExt, func(f *os.File) error {
		return writeAux(f, g.Header)
	}); err != nil {
		return err
	}
	return writeAtomic(path, func(f *os.File) error {
		img := &image.Gray{Pix: g.Pix, Stride: g.Width, Rect: image.Rect(0, 0, g.Width, g.Height)}
		w := bufio.NewWriter(f)
		if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return err
		}
		return w.Flush()
	})
}

// Remove deletes a raster and its sidecars. Missing files are ignored.
func Remove(path string) error {
	for _, p := range []string{path, path + WorldFileExt, path + AuxFileExt} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", p)
		}
	}
	return nil
}

func writeAtomic(path string, fill func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "closing %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "renaming %s", tmp)
}

// world files hold the centre of the upper-left pixel, not its corner
func writeWorldFile(f *os.File, t Transform) error {
	_, err := fmt.Fprintf(f, "%.17g\n%.17g\n%.17g\n%.17g\n%.17g\n%.17g\n",
		t[1], t[4], t[2], t[5], t[0]+t[1]/2+t[2]/2, t[3]+t[4]/2+t[5]/2)
	return err
}

func readWorldFile(path string) (Transform, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Transform{}, false, nil
	}
	if err != nil {
		return Transform{}, false, errors.Wrap(err, "reading world file")
	}
	fields := strings.Fields(string(raw))
	if len(fields) != 6 {
		return Transform{}, false, errors.Errorf("world file %s has %d values, want 6", path, len(fields))
	}
	var v [6]float64
	for i, s := range fields {
		if v[i], err = strconv.ParseFloat(s, 64); err != nil {
			return Transform{}, false, errors.Wrapf(err, "world file %s", path)
		}
	}
	a, d, b, e, c, ff := v[0], v[1], v[2], v[3], v[4], v[5]
	return Transform{c - a/2 - b/2, a, b, ff - d/2 - e/2, d, e}, true, nil
}

// metadata key holding the exact region name of a clipped raster
const regionMetadataKey = "REGION"

type pamDataset struct {
	XMLName      xml.Name     `xml:"PAMDataset"`
	SRS          string       `xml:"SRS,omitempty"`
	GeoTransform string       `xml:"GeoTransform,omitempty"`
	Metadata     *pamMetadata `xml:"Metadata,omitempty"`
	Band         *pamBand     `xml:"PAMRasterBand,omitempty"`
}

type pamMetadata struct {
	Items []pamItem `xml:"MDI"`
}

type pamItem struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type pamBand struct {
	Band   int    `xml:"band,attr"`
	NoData string `xml:"NoDataValue,omitempty"`
}

func writeAux(f *os.File, h Header) error {
	parts := make([]string, len(h.Transform))
	for i, v := range h.Transform {
		parts[i] = strconv.FormatFloat(v, 'g', 17, 64)
	}
	doc := pamDataset{
		SRS:          h.CRS.Proj4,
		GeoTransform: strings.Join(parts, ", "),
	}
	if h.Region != "" {
		doc.Metadata = &pamMetadata{Items: []pamItem{{Key: regionMetadataKey, Value: h.Region}}}
	}
	if h.HasNoData {
		doc.Band = &pamBand{Band: 1, NoData: strconv.Itoa(int(h.NoData))}
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}

func readAux(path string, h *Header) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "reading aux.xml")
	}
	var doc pamDataset
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return false, errors.Wrapf(err, "parsing %s", path)
	}
	if doc.SRS != "" {
		h.CRS = spatial.FromProj4(doc.SRS)
	}
	if doc.Metadata != nil {
		for _, item := range doc.Metadata.Items {
			if item.Key == regionMetadataKey {
				h.Region = item.Value
			}
		}
	}
	if doc.Band != nil && doc.Band.NoData != "" {
		v, err := strconv.Atoi(strings.TrimSpace(doc.Band.NoData))
		if err != nil || v < 0 || v > 255 {
			return false, errors.Errorf("%s: bad nodata %q", path, doc.Band.NoData)
		}
		h.NoData, h.HasNoData = uint8(v), true
	}
	if doc.GeoTransform == "" {
		return false, nil
	}
	parts := strings.Split(doc.GeoTransform, ",")
	if len(parts) != 6 {
		return false, errors.Errorf("%s: geotransform has %d values", path, len(parts))
	}
	for i, p := range parts {
		if h.Transform[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return false, errors.Wrapf(err, "%s: geotransform", path)
		}
	}
	return true, nil
}
