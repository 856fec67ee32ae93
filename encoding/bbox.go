package encoding

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

//ParseBbox reads minlon,minlat,maxlon,maxlat
func ParseBbox(bbox string) (*orb.Bound, error) {

	coords := strings.Split(bbox, ",")
	if len(coords) != 4 {
		return nil, errors.New("bbox does not have 4 elements")
	}

	var v [4]float64
	for i, c := range coords {
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return nil, errors.New("unable to parse coordinates from bbox")
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return nil, errors.New("bbox minimum exceeds maximum")
	}

	return &orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil

}
