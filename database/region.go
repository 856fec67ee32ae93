package database

import (
	"context"
	"fmt"

	"github.com/earthrise-media/forestloss/model"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BoundaryTable names the boundary store's table and columns.
type BoundaryTable struct {
	Table      string
	NameColumn string
	GeomColumn string
	// DefaultSRID is used for geometries stored without one.
	DefaultSRID int
}

type RegionController struct {
	db    *pgxpool.Pool
	table BoundaryTable
}

func NewRegionController(db *pgxpool.Pool, table BoundaryTable) *RegionController {
	return &RegionController{db: db, table: table}
}

func (rc *RegionController) columns() (string, string, string) {
	return pgx.Identifier{rc.table.Table}.Sanitize(),
		pgx.Identifier{rc.table.NameColumn}.Sanitize(),
		pgx.Identifier{rc.table.GeomColumn}.Sanitize()
}

//FindRegions returns every boundary in its native reference system
func (rc *RegionController) FindRegions(ctx context.Context) ([]*model.Region, error) {
	table, name, geom := rc.columns()
	sql := fmt.Sprintf("SELECT %s, ST_AsBinary(ST_Multi(%s)), ST_SRID(%s) FROM %s ORDER BY %s",
		name, geom, geom, table, name)
	rows, err := rc.db.Query(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, "querying boundaries")
	}
	defer rows.Close()

	regions, err := scanToRegions(rows, rc.table.DefaultSRID)
	if err != nil {
		return nil, err
	}
	return regions, errors.Wrap(rows.Err(), "reading boundaries")
}

//FindRegionsWGS84 returns boundaries transformed to EPSG:4326, optionally
//limited to those intersecting bound
func (rc *RegionController) FindRegionsWGS84(ctx context.Context, bound *orb.Bound) ([]*model.Region, error) {
	table, name, geom := rc.columns()
	native := fmt.Sprintf("CASE WHEN ST_SRID(%s) = 0 THEN ST_SetSRID(%s, $1) ELSE %s END", geom, geom, geom)
	sql := fmt.Sprintf(`SELECT name, ST_AsBinary(ST_Multi(g)), 4326 FROM (
		SELECT %s AS name, ST_Transform(%s, 4326) AS g FROM %s) b`, name, native, table)
	args := []interface{}{rc.table.DefaultSRID}
	if bound != nil {
		sql += " WHERE ST_Intersects(g, ST_MakeEnvelope($2, $3, $4, $5, 4326))"
		args = append(args, bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y())
	}
	sql += " ORDER BY name"

	rows, err := rc.db.Query(ctx, sql, args...)
	if err != nil {
		zap.L().Error(err.Error())
		return nil, errors.Wrap(err, "querying boundaries")
	}
	defer rows.Close()
	return scanToRegions(rows, 4326)
}

//scanToRegions does all the nasty geometry stuff
func scanToRegions(rows pgx.Rows, defaultSRID int) ([]*model.Region, error) {

	var regions []*model.Region
	for rows.Next() {

		var name string
		var geom []byte
		var srid int
		if err := rows.Scan(&name, &geom, &srid); err != nil {
			zap.S().Warnf("error scanning row: %s", err.Error())
			continue
		}
		mp, err := decodeMultiPolygon(geom)
		if err != nil {
			zap.S().Warnf("error scanning geometry of %s: %s", name, err.Error())
			continue
		}
		if srid == 0 {
			srid = defaultSRID
		}
		regions = append(regions, &model.Region{Name: name, SRID: srid, Geometry: mp})
	}
	zap.L().Info("returned ", zap.Int("regions", len(regions)))
	return regions, nil
}

func decodeMultiPolygon(b []byte) (orb.MultiPolygon, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	switch v := g.(type) {
	case orb.MultiPolygon:
		return v, nil
	case orb.Polygon:
		return orb.MultiPolygon{v}, nil
	default:
		return nil, errors.Errorf("unexpected geometry type %s", g.GeoJSONType())
	}
}
