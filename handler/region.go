package handler

import (
	"context"

	"github.com/earthrise-media/forestloss/encoding"
	"github.com/earthrise-media/forestloss/model"
	"github.com/kataras/iris/v12"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

//RegionFinder reads boundaries reprojected to EPSG:4326
type RegionFinder interface {
	FindRegionsWGS84(ctx context.Context, bound *orb.Bound) ([]*model.Region, error)
}

type RegionHandler struct {
	Regions RegionFinder
	Losses  LossFinder
}

//GetRegions returns boundaries as a feature collection, each carrying its own loss rows
func (rh *RegionHandler) GetRegions(ctx iris.Context) {

	var bound *orb.Bound
	if bbox := ctx.URLParam("bbox"); bbox != "" {
		b, err := encoding.ParseBbox(bbox)
		if err != nil {
			ctx.Problem(iris.NewProblem().Type("/regions").Detail(err.Error()).Status(400))
			return
		}
		bound = b
	}

	regions, err := rh.Regions.FindRegionsWGS84(ctx.Request().Context(), bound)
	if err != nil {
		zap.S().Errorf("finding regions: %s", err.Error())
		ctx.Problem(iris.NewProblem().Type("/regions").Detail("database issue").Status(500))
		return
	}

	var records []*model.LossRecord
	if rh.Losses != nil && len(regions) > 0 {
		records, err = rh.Losses.FindRegionLosses(ctx.Request().Context(), encoding.RegionNames(regions))
		if err != nil {
			zap.S().Errorf("finding region losses: %s", err.Error())
			ctx.Problem(iris.NewProblem().Type("/regions").Detail("database issue").Status(500))
			return
		}
	}

	ctx.JSON(encoding.RegionsToFeatureCollection(regions, records))
}
