package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"robotrunner/api/model"
)

// uniqueViolation is the postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type DB struct {
	pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			request_id  TEXT PRIMARY KEY,
			project     TEXT NOT NULL,
			kind        TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'queued',
			exit_code   INTEGER NOT NULL DEFAULT -1,
			report_url  TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			output      TEXT NOT NULL DEFAULT '',
			artifacts   JSONB NOT NULL DEFAULT '[]',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ
		);
		ALTER TABLE runs ADD COLUMN IF NOT EXISTS output TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`)
	return err
}

func (db *DB) CreateRun(ctx context.Context, run *model.Run) error {
	artifacts, _ := json.Marshal(run.Artifacts)
	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.RequestID, run.Project, run.Kind, run.Title, run.Status, run.ExitCode,
		run.ReportURL, run.Error, run.Output, artifacts, run.DurationMs, run.StartedAt, run.FinishedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func (db *DB) UpdateRun(ctx context.Context, run *model.Run) error {
	artifacts, _ := json.Marshal(run.Artifacts)
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, exit_code = $2, report_url = $3, error = $4, output = $5,
		   artifacts = $6, duration_ms = $7, finished_at = $8
		 WHERE request_id = $9`,
		run.Status, run.ExitCode, run.ReportURL, run.Error, run.Output, artifacts, run.DurationMs, run.FinishedAt, run.RequestID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `request_id, project, kind, title, status, exit_code, report_url, error, output, artifacts, duration_ms, started_at, finished_at`

func scanRun(row pgx.Row) (*model.Run, error) {
	var (
		run       model.Run
		artifacts []byte
	)
	if err := row.Scan(&run.RequestID, &run.Project, &run.Kind, &run.Title, &run.Status, &run.ExitCode,
		&run.ReportURL, &run.Error, &run.Output, &artifacts, &run.DurationMs, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Artifacts = []model.ArtifactRef{}
	if err := json.Unmarshal(artifacts, &run.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts of %s: %w", run.RequestID, err)
	}
	return &run, nil
}

func (db *DB) GetRun(ctx context.Context, requestID string) (*model.Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (db *DB) ListRuns(ctx context.Context, f RunFilter) ([]model.Run, error) {
	where := ""
	args := []interface{}{}
	argN := 1

	if f.Project != "" {
		where += fmt.Sprintf(" AND project = $%d", argN)
		args = append(args, f.Project)
		argN++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, f.Status)
		argN++
	}
	args = append(args, f.limit())

	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM runs WHERE 1=1%s ORDER BY started_at DESC LIMIT $%d",
		runColumns, where, argN,
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (db *DB) RecoverInFlight(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs
		 SET status = 'error', error = $1, finished_at = now()
		 WHERE status IN ('queued', 'running')`,
		restartedMessage,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
