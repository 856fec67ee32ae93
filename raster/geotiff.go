package raster

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// GeoTIFF and GDAL private tags. golang.org/x/image/tiff decodes pixels but
// drops every tag it does not need for that, so the georeferencing tags are
// read straight from the first IFD here.
const (
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	tagGDALNoData         = 42113
	keyRasterType         = 1025
	keyGeographicType     = 2048
	keyProjectedType      = 3072
	rasterPixelIsPoint    = 2
	tiffTypeASCII         = 2
	tiffTypeShort         = 3
	tiffTypeLong          = 4
	tiffTypeDouble        = 12
	classicTIFFMagic      = 42
	bigTIFFMagic          = 43
	ifdEntrySize          = 12
	maxInlineValueByteLen = 4
)

var typeSize = map[uint16]int{1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8}

type geoTags struct {
	scale     []float64
	tiepoint  []float64
	matrix    []float64
	geoKeys   []uint16
	noData    string
	hasNoData bool
}

func readGeoTags(r io.ReaderAt) (*geoTags, error) {
	var head [8]byte
	if _, err := r.ReadAt(head[:], 0); err != nil {
		return nil, errors.Wrap(err, "reading tiff header")
	}
	var bo binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, errors.New("not a tiff file")
	}
	switch bo.Uint16(head[2:4]) {
	case classicTIFFMagic:
	case bigTIFFMagic:
		return nil, errors.New("bigtiff is not supported")
	default:
		return nil, errors.New("bad tiff magic")
	}

	ifd := int64(bo.Uint32(head[4:8]))
	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], ifd); err != nil {
		return nil, errors.Wrap(err, "reading ifd")
	}
	n := int(bo.Uint16(cnt[:]))
	entries := make([]byte, n*ifdEntrySize)
	if _, err := r.ReadAt(entries, ifd+2); err != nil {
		return nil, errors.Wrap(err, "reading ifd entries")
	}

	tags := &geoTags{}
	for i := 0; i < n; i++ {
		e := entries[i*ifdEntrySize : (i+1)*ifdEntrySize]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := int(bo.Uint32(e[4:8]))
		switch tag {
		case tagModelPixelScale, tagModelTiepoint, tagModelTransform, tagGeoKeyDirectory, tagGDALNoData:
		default:
			continue
		}
		raw, err := entryData(r, bo, e, typ, count)
		if err != nil {
			return nil, errors.Wrapf(err, "tag %d", tag)
		}
		switch tag {
		case tagModelPixelScale:
			tags.scale = doubles(bo, typ, raw)
		case tagModelTiepoint:
			tags.tiepoint = doubles(bo, typ, raw)
		case tagModelTransform:
			tags.matrix = doubles(bo, typ, raw)
		case tagGeoKeyDirectory:
			if typ == tiffTypeShort {
				tags.geoKeys = make([]uint16, count)
				for j := range tags.geoKeys {
					tags.geoKeys[j] = bo.Uint16(raw[j*2:])
				}
			}
		case tagGDALNoData:
			if typ == tiffTypeASCII {
				tags.noData = strings.TrimRight(string(raw), "\x00 ")
				tags.hasNoData = tags.noData != ""
			}
		}
	}
	return tags, nil
}

func entryData(r io.ReaderAt, bo binary.ByteOrder, e []byte, typ uint16, count int) ([]byte, error) {
	size, ok := typeSize[typ]
	if !ok {
		return nil, errors.Errorf("unknown field type %d", typ)
	}
	n := size * count
	if n <= maxInlineValueByteLen {
		return e[8 : 8+n], nil
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, int64(bo.Uint32(e[8:12]))); err != nil {
		return nil, err
	}
	return buf, nil
}

func doubles(bo binary.ByteOrder, typ uint16, raw []byte) []float64 {
	if typ != tiffTypeDouble {
		return nil
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(bo.Uint64(raw[i*8:]))
	}
	return out
}

// transform derives the geotransform from either the tiepoint/scale pair or
// the full model transformation matrix.
func (g *geoTags) transform() (Transform, bool) {
	var t Transform
	switch {
	case len(g.scale) >= 2 && len(g.tiepoint) >= 6:
		i, j := g.tiepoint[0], g.tiepoint[1]
		x, y := g.tiepoint[3], g.tiepoint[4]
		sx, sy := g.scale[0], g.scale[1]
		t = Transform{x - i*sx, sx, 0, y + j*sy, 0, -sy}
	case len(g.matrix) == 16:
		m := g.matrix
		t = Transform{m[3], m[0], m[1], m[7], m[4], m[5]}
	default:
		return t, false
	}
	if g.key(keyRasterType) == rasterPixelIsPoint {
		t[0] -= t[1] / 2
		t[3] -= t[5] / 2
	}
	return t, true
}

// epsg returns the projected or geographic type key, projected first.
func (g *geoTags) epsg() int {
	if code := g.key(keyProjectedType); code > 0 && code != 32767 {
		return code
	}
	if code := g.key(keyGeographicType); code > 0 && code != 32767 {
		return code
	}
	return 0
}

// key returns an inline short-valued geokey, or 0.
func (g *geoTags) key(id uint16) int {
	if len(g.geoKeys) < 4 {
		return 0
	}
	n := int(g.geoKeys[3])
	for i := 0; i < n; i++ {
		off := 4 + i*4
		if off+3 >= len(g.geoKeys) {
			break
		}
		if g.geoKeys[off] == id && g.geoKeys[off+1] == 0 {
			return int(g.geoKeys[off+3])
		}
	}
	return 0
}

func (g *geoTags) noDataValue() (uint8, bool) {
	if !g.hasNoData {
		return 0, false
	}
	v, err := strconv.ParseFloat(g.noData, 64)
	if err != nil || v < 0 || v > math.MaxUint8 || v != math.Trunc(v) {
		return 0, false
	}
	return uint8(v), true
}
