package database

import (
	"context"

	"github.com/earthrise-media/forestloss/model"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const upsertLossSql = `INSERT INTO region_forest_loss(region_name, year, loss_area_ha) VALUES($1, $2, $3)
ON CONFLICT (region_name, year) DO UPDATE SET loss_area_ha = EXCLUDED.loss_area_ha`

type LossController struct {
	db *pgxpool.Pool
}

func NewLossController(db *pgxpool.Pool) *LossController {
	return &LossController{db: db}
}

//UpsertLosses writes one region's records in a single transaction. Existing
//(region, year) rows are overwritten, never duplicated.
func (lc *LossController) UpsertLosses(ctx context.Context, records []model.LossRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := lc.db.Begin(ctx)
	if err != nil {
		zap.L().Error("error starting transaction")
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsertLossSql, r.RegionName, r.Year, r.AreaHa)
	}
	br := tx.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return errors.Wrapf(err, "upserting %s/%d", r.RegionName, r.Year)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "closing batch")
	}
	if err := tx.Commit(ctx); err != nil {
		zap.S().Errorf("error commiting: %s", err.Error())
		return errors.Wrap(err, "committing")
	}
	return nil
}

//FindLosses returns loss rows, optionally filtered by region and year (zero
//values mean no filter)
func (lc *LossController) FindLosses(ctx context.Context, region string, year int) ([]*model.LossRecord, error) {
	sql := `SELECT id, region_name, year, loss_area_ha FROM region_forest_loss
WHERE ($1 = '' OR region_name = $1) AND ($2 = 0 OR year = $2)
ORDER BY region_name, year`
	rows, err := lc.db.Query(ctx, sql, region, year)
	if err != nil {
		return nil, errors.Wrap(err, "querying losses")
	}
	defer rows.Close()
	return scanToLosses(rows)
}

//FindRegionLosses returns every yearly row of the named regions
func (lc *LossController) FindRegionLosses(ctx context.Context, regions []string) ([]*model.LossRecord, error) {
	if len(regions) == 0 {
		return nil, nil
	}
	rows, err := lc.db.Query(ctx, `SELECT id, region_name, year, loss_area_ha FROM region_forest_loss
WHERE region_name = ANY($1) ORDER BY region_name, year`, regions)
	if err != nil {
		return nil, errors.Wrap(err, "querying region losses")
	}
	defer rows.Close()
	return scanToLosses(rows)
}

func scanToLosses(rows pgx.Rows) ([]*model.LossRecord, error) {
	var out []*model.LossRecord
	for rows.Next() {
		var r model.LossRecord
		if err := rows.Scan(&r.Id, &r.RegionName, &r.Year, &r.AreaHa); err != nil {
			return nil, errors.Wrap(err, "scanning loss row")
		}
		out = append(out, &r)
	}
	return out, errors.Wrap(rows.Err(), "reading losses")
}

//YearTotals sums loss over all regions per year
func (lc *LossController) YearTotals(ctx context.Context) ([]*model.YearTotal, error) {
	rows, err := lc.db.Query(ctx, `SELECT year, SUM(loss_area_ha) FROM region_forest_loss GROUP BY year ORDER BY year`)
	if err != nil {
		return nil, errors.Wrap(err, "querying year totals")
	}
	defer rows.Close()

	var out []*model.YearTotal
	for rows.Next() {
		var t model.YearTotal
		if err := rows.Scan(&t.Year, &t.AreaHa); err != nil {
			return nil, errors.Wrap(err, "scanning year total")
		}
		out = append(out, &t)
	}
	return out, errors.Wrap(rows.Err(), "reading year totals")
}

//TopRegions returns the n regions with the most loss over all years
func (lc *LossController) TopRegions(ctx context.Context, n int) ([]*model.RegionTotal, error) {
	rows, err := lc.db.Query(ctx, `SELECT region_name, SUM(loss_area_ha) AS total FROM region_forest_loss
GROUP BY region_name ORDER BY total DESC, region_name LIMIT $1`, n)
	if err != nil {
		return nil, errors.Wrap(err, "querying region totals")
	}
	defer rows.Close()

	var out []*model.RegionTotal
	for rows.Next() {
		var t model.RegionTotal
		if err := rows.Scan(&t.RegionName, &t.AreaHa); err != nil {
			return nil, errors.Wrap(err, "scanning region total")
		}
		out = append(out, &t)
	}
	return out, errors.Wrap(rows.Err(), "reading region totals")
}

func (lc *LossController) Ping(ctx context.Context) error {
	return lc.db.Ping(ctx)
}
