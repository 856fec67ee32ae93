package database

import (
	"context"

	"github.com/jackc/pgx/v4/log/zapadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Connect opens the pool shared by every stage of a run. The caller owns it
// and closes it on exit.
func Connect(ctx context.Context, connstring string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connstring)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse connection string")
	}
	poolConfig.ConnConfig.Logger = zapadapter.NewLogger(logger)

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database unreachable")
	}
	return db, nil
}

//DeleteSchema drops the tables this service owns - useful for testing
func DeleteSchema(ctx context.Context, db *pgxpool.Pool) error {
	dropTables := `DROP TABLE IF EXISTS region_forest_loss;
					DROP TABLE IF EXISTS pipeline_runs;`
	_, err := db.Exec(ctx, dropTables)
	return err
}

//SetupSchema creates the statistics and run tables if they don't exist. The
//boundary table belongs to the boundary store and is never created here.
func SetupSchema(ctx context.Context, db *pgxpool.Pool) error {

	//is postgis installed?
	row := db.QueryRow(ctx, "SELECT postgis_version()")
	var version string
	err := row.Scan(&version)

	if err != nil {
		zap.L().Warn("PostGIS not found...attempting to install")
		_, err := db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis")
		if err != nil {
			return errors.Wrap(err, "unable to install postgis")
		}
		zap.L().Info("Installed PostGIS")
	} else {
		zap.L().Info("Found PostGIS: " + version)
	}

	if _, err := db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS hstore"); err != nil {
		return errors.Wrap(err, "unable to install hstore")
	}

	createSql := `CREATE TABLE IF NOT EXISTS region_forest_loss(
	id serial primary key,
	region_name varchar(100) NOT NULL,
	year int NOT NULL,
	loss_area_ha double precision,
	CONSTRAINT uix_region_year UNIQUE (region_name, year));
CREATE TABLE IF NOT EXISTS pipeline_runs(
	stage text NOT NULL,
	fingerprint text NOT NULL,
	status text NOT NULL,
	started_at timestamptz NOT NULL DEFAULT now(),
	completed_at timestamptz,
	props HSTORE,
	PRIMARY KEY (stage, fingerprint));
`
	_, err = db.Exec(ctx, createSql)
	return errors.Wrap(err, "unable to create tables")
}
