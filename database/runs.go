package database

import (
	"context"
	"time"

	"github.com/earthrise-media/forestloss/model"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

// RunController keeps the run ledger: one row per (stage, input fingerprint).
type RunController struct {
	db *pgxpool.Pool
}

func NewRunController(db *pgxpool.Pool) *RunController {
	return &RunController{db: db}
}

//Claim marks a stage as running for a fingerprint. It fails to claim when
//another run holds it and its lease has not expired.
func (rc *RunController) Claim(ctx context.Context, stage, fingerprint string, lease time.Duration) (bool, error) {
	sql := `INSERT INTO pipeline_runs(stage, fingerprint, status, started_at) VALUES($1, $2, $3, now())
ON CONFLICT (stage, fingerprint) DO UPDATE SET status = EXCLUDED.status, started_at = now(), completed_at = NULL
WHERE pipeline_runs.status <> $3 OR pipeline_runs.started_at < now() - make_interval(secs => $4)
RETURNING stage`
	var got string
	err := rc.db.QueryRow(ctx, sql, stage, fingerprint, model.RunRunning, lease.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "claiming %s", stage)
	}
	return true, nil
}

//Finish records the outcome of a claimed stage
func (rc *RunController) Finish(ctx context.Context, stage, fingerprint, status string, props map[string]string) error {
	store := pgtype.Hstore{}
	if err := store.Set(props); err != nil {
		return errors.Wrap(err, "encoding run properties")
	}
	sql := `INSERT INTO pipeline_runs(stage, fingerprint, status, completed_at, props) VALUES($1, $2, $3, now(), $4)
ON CONFLICT (stage, fingerprint) DO UPDATE SET status = EXCLUDED.status, completed_at = now(), props = EXCLUDED.props`
	_, err := rc.db.Exec(ctx, sql, stage, fingerprint, status, store)
	return errors.Wrapf(err, "finishing %s", stage)
}

//Completed reports whether a stage finished successfully for a fingerprint
func (rc *RunController) Completed(ctx context.Context, stage, fingerprint string) (bool, error) {
	var status string
	err := rc.db.QueryRow(ctx, "SELECT status FROM pipeline_runs WHERE stage = $1 AND fingerprint = $2",
		stage, fingerprint).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading run %s", stage)
	}
	return status == model.RunCompleted, nil
}

//LastCompleted returns the fingerprint of the most recent successful run of a stage
func (rc *RunController) LastCompleted(ctx context.Context, stage string) (string, bool, error) {
	var fingerprint string
	err := rc.db.QueryRow(ctx, `SELECT fingerprint FROM pipeline_runs WHERE stage = $1 AND status = $2
ORDER BY completed_at DESC LIMIT 1`, stage, model.RunCompleted).Scan(&fingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "reading last %s run", stage)
	}
	return fingerprint, true, nil
}

//FindRuns lists the ledger, most recent first
func (rc *RunController) FindRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	rows, err := rc.db.Query(ctx, `SELECT stage, fingerprint, status, started_at, completed_at, props
FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		var r model.Run
		var props pgtype.Hstore
		if err := rows.Scan(&r.Stage, &r.Fingerprint, &r.Status, &r.StartedAt, &r.CompletedAt, &props); err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		r.Properties = make(map[string]string, len(props.Map))
		for k, v := range props.Map {
			r.Properties[k] = v.String
		}
		out = append(out, &r)
	}
	return out, errors.Wrap(rows.Err(), "reading runs")
}
