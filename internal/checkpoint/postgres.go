package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps checkpoints in Postgres for deployments where runs must
// survive the host. The layout mirrors FSStore: one row per (run, stage)
// plus a runs table for metadata.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: connect: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    run_id     text PRIMARY KEY,
    pipeline   text NOT NULL DEFAULT '',
    status     text NOT NULL,
    created_at timestamptz NOT NULL,
    updated_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
    run_id         text NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
    stage          text NOT NULL,
    seq            int  NOT NULL,
    schema_version int  NOT NULL,
    payload        jsonb NOT NULL,
    created_at     timestamptz NOT NULL,
    PRIMARY KEY (run_id, stage)
);`)
	return err
}

// Put inserts the record once; a conflicting (run, stage) pair is ignored.
func (s *PGStore) Put(ctx context.Context, rec Record) error {
	if rec.RunID == "" || rec.Stage == "" {
		return fmt.Errorf("checkpoint: run id and stage are required")
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = SchemaVersion
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_checkpoints (run_id, stage, seq, schema_version, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, stage) DO NOTHING`,
		rec.RunID, rec.Stage, rec.Seq, rec.SchemaVersion, rec.Payload, rec.CreatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, runID, stage string) (Record, bool, error) {
	rec := Record{RunID: runID, Stage: stage}
	err := s.pool.QueryRow(ctx, `
SELECT seq, schema_version, payload, created_at
FROM pipeline_checkpoints WHERE run_id = $1 AND stage = $2`,
		runID, stage).Scan(&rec.Seq, &rec.SchemaVersion, &rec.Payload, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if rec.SchemaVersion != SchemaVersion {
		return Record{}, false, fmt.Errorf("%w: %s/%s: schema version %d, want %d",
			ErrCorrupt, runID, stage, rec.SchemaVersion, SchemaVersion)
	}
	return rec, true, nil
}

func (s *PGStore) Latest(ctx context.Context, runID string) (Record, bool, error) {
	rec := Record{RunID: runID}
	err := s.pool.QueryRow(ctx, `
SELECT stage, seq, schema_version, payload, created_at
FROM pipeline_checkpoints WHERE run_id = $1
ORDER BY seq DESC LIMIT 1`,
		runID).Scan(&rec.Stage, &rec.Seq, &rec.SchemaVersion, &rec.Payload, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if rec.SchemaVersion != SchemaVersion {
		return Record{}, false, fmt.Errorf("%w: %s/%s: schema version %d, want %d",
			ErrCorrupt, runID, rec.Stage, rec.SchemaVersion, SchemaVersion)
	}
	return rec, true, nil
}

func (s *PGStore) List(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT stage, seq, schema_version, payload, created_at
FROM pipeline_checkpoints WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec := Record{RunID: runID}
		if err := rows.Scan(&rec.Stage, &rec.Seq, &rec.SchemaVersion, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if rec.SchemaVersion != SchemaVersion {
			return nil, fmt.Errorf("%w: %s/%s: schema version %d, want %d",
				ErrCorrupt, runID, rec.Stage, rec.SchemaVersion, SchemaVersion)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pipeline_runs WHERE run_id = $1`, runID)
	return err
}

func (s *PGStore) BeginRun(ctx context.Context, meta RunMeta) error {
	if meta.RunID == "" {
		return fmt.Errorf("checkpoint: run id is required")
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.Status == "" {
		meta.Status = StatusRunning
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_runs (run_id, pipeline, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (run_id) DO UPDATE SET status = $3, updated_at = $5`,
		meta.RunID, meta.Pipeline, meta.Status, meta.CreatedAt, now)
	return err
}

func (s *PGStore) SetStatus(ctx context.Context, runID, status string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE pipeline_runs SET status = $2, updated_at = $3 WHERE run_id = $1`,
		runID, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownRun
	}
	return nil
}

func (s *PGStore) GetRun(ctx context.Context, runID string) (RunMeta, error) {
	meta := RunMeta{RunID: runID}
	err := s.pool.QueryRow(ctx, `
SELECT pipeline, status, created_at, updated_at FROM pipeline_runs WHERE run_id = $1`,
		runID).Scan(&meta.Pipeline, &meta.Status, &meta.CreatedAt, &meta.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunMeta{}, ErrUnknownRun
	}
	return meta, err
}

func (s *PGStore) ListRuns(ctx context.Context) ([]RunMeta, error) {
	rows, err := s.pool.Query(ctx, `
SELECT run_id, pipeline, status, created_at, updated_at
FROM pipeline_runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []RunMeta
	for rows.Next() {
		var meta RunMeta
		if err := rows.Scan(&meta.RunID, &meta.Pipeline, &meta.Status, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func (s *PGStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM pipeline_runs WHERE status = $1 AND updated_at < $2`,
		StatusCompleted, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
