// Package spatial holds coordinate reference handling shared by the raster
// and vector sides of the pipeline.
package spatial

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownSRID is returned for EPSG codes without a registered proj4 definition.
var ErrUnknownSRID = errors.New("unknown srid")

// proj4 definitions for the reference systems the boundary store and the
// Hansen tiles are published in.
var epsg = map[int]string{
	4326:  "+proj=longlat +datum=WGS84 +no_defs",
	3857:  "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
	32631: "+proj=utm +zone=31 +datum=WGS84 +units=m +no_defs",
	32632: "+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs",
	32633: "+proj=utm +zone=33 +datum=WGS84 +units=m +no_defs",
	26331: "+proj=utm +zone=31 +ellps=clrk80 +towgs84=-92,-93,122,0,0,0,0 +units=m +no_defs",
	26332: "+proj=utm +zone=32 +ellps=clrk80 +towgs84=-92,-93,122,0,0,0,0 +units=m +no_defs",
}

// CRS identifies a coordinate reference system. EPSG is zero when the CRS
// was given only as a proj4 string that matches no registered code.
type CRS struct {
	EPSG  int
	Proj4 string
}

// WGS84 is the geographic lon/lat system the Hansen tiles use.
var WGS84 = CRS{EPSG: 4326, Proj4: epsg[4326]}

// FromEPSG looks up a registered EPSG code.
func FromEPSG(code int) (CRS, error) {
	def, ok := epsg[code]
	if !ok {
		return CRS{}, errors.Wrapf(ErrUnknownSRID, "epsg:%d", code)
	}
	return CRS{EPSG: code, Proj4: def}, nil
}

// FromProj4 wraps a proj4 definition, resolving its EPSG code when the
// definition matches a registered one.
func FromProj4(def string) CRS {
	def = strings.TrimSpace(def)
	norm := normalize(def)
	for code, known := range epsg {
		if normalize(known) == norm {
			return CRS{EPSG: code, Proj4: known}
		}
	}
	return CRS{Proj4: def}
}

// Equal reports whether two systems are the same. Parameter order in proj4
// strings is not significant.
func (c CRS) Equal(o CRS) bool {
	if c.EPSG != 0 && o.EPSG != 0 {
		return c.EPSG == o.EPSG
	}
	return normalize(c.Proj4) == normalize(o.Proj4)
}

func (c CRS) IsZero() bool {
	return c.EPSG == 0 && c.Proj4 == ""
}

func (c CRS) String() string {
	if c.EPSG != 0 {
		return "EPSG:" + strconv.Itoa(c.EPSG)
	}
	return c.Proj4
}

func normalize(def string) string {
	fields := strings.Fields(def)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
