package encoding

import (
	"strconv"

	"github.com/earthrise-media/forestloss/model"
	"github.com/paulmach/orb/geojson"
)

//RegionToFeature encodes a boundary with its total and per-year loss. records
//must all belong to the region.
func RegionToFeature(region *model.Region, records []*model.LossRecord) *geojson.Feature {
	feat := geojson.NewFeature(region.Geometry)
	feat.ID = region.Name
	feat.Properties[model.RegionName] = region.Name
	feat.Properties[model.RegionSRID] = region.SRID

	total := 0.0
	years := make(map[string]float64, len(records))
	for _, r := range records {
		total += r.AreaHa
		years[strconv.Itoa(r.Year)] = r.AreaHa
	}
	feat.Properties[model.RegionLoss] = total
	feat.Properties[model.RegionYears] = years
	return feat
}

func RegionsToFeatureCollection(regions []*model.Region, records []*model.LossRecord) *geojson.FeatureCollection {

	byRegion := make(map[string][]*model.LossRecord)
	for _, r := range records {
		byRegion[r.RegionName] = append(byRegion[r.RegionName], r)
	}
	fc := geojson.NewFeatureCollection()
	for _, region := range regions {
		fc.Append(RegionToFeature(region, byRegion[region.Name]))
	}
	return fc
}

//RegionNames lists the names of regions in order
func RegionNames(regions []*model.Region) []string {
	names := make([]string, 0, len(regions))
	for _, r := range regions {
		names = append(names, r.Name)
	}
	return names
}
