package handler

import (
	"context"

	"github.com/earthrise-media/forestloss/encoding"
	"github.com/earthrise-media/forestloss/model"
	"github.com/kataras/iris/v12"
	"go.uber.org/zap"
)

const defaultTop = 10

//LossFinder reads the loss statistics table
type LossFinder interface {
	FindLosses(ctx context.Context, region string, year int) ([]*model.LossRecord, error)
	FindRegionLosses(ctx context.Context, regions []string) ([]*model.LossRecord, error)
	YearTotals(ctx context.Context) ([]*model.YearTotal, error)
	TopRegions(ctx context.Context, n int) ([]*model.RegionTotal, error)
	Pinger
}

type LossHandler struct {
	Losses LossFinder
}

//GetLosses lists yearly rows, optionally filtered by region and year
func (lh *LossHandler) GetLosses(ctx iris.Context) {

	year, err := ctx.URLParamInt("year")
	if err != nil && ctx.URLParamExists("year") {
		ctx.Problem(iris.NewProblem().Type("/loss").Detail("year must be an integer").Status(400))
		return
	}
	if err != nil {
		year = 0
	}

	records, err := lh.Losses.FindLosses(ctx.Request().Context(), ctx.URLParam("region"), year)
	if err != nil {
		zap.S().Errorf("finding losses: %s", err.Error())
		ctx.Problem(iris.NewProblem().Type("/loss").Detail("database issue").Status(500))
		return
	}
	ctx.JSON(encoding.LossRows(records))
}

//GetNational sums loss over every region per year
func (lh *LossHandler) GetNational(ctx iris.Context) {

	totals, err := lh.Losses.YearTotals(ctx.Request().Context())
	if err != nil {
		zap.S().Errorf("finding yearly totals: %s", err.Error())
		ctx.Problem(iris.NewProblem().Type("/loss/national").Detail("database issue").Status(500))
		return
	}
	ctx.JSON(encoding.YearRows(totals))
}

//GetTop ranks regions by total loss
func (lh *LossHandler) GetTop(ctx iris.Context) {

	n := ctx.URLParamIntDefault("n", defaultTop)
	if n <= 0 {
		ctx.Problem(iris.NewProblem().Type("/loss/top").Detail("n must be positive").Status(400))
		return
	}

	totals, err := lh.Losses.TopRegions(ctx.Request().Context(), n)
	if err != nil {
		zap.S().Errorf("finding top regions: %s", err.Error())
		ctx.Problem(iris.NewProblem().Type("/loss/top").Detail("database issue").Status(500))
		return
	}
	ctx.JSON(encoding.RegionRows(totals))
}
