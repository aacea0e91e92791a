package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PulseCampaign/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS bulk_jobs (
	id          TEXT PRIMARY KEY,
	in_progress BOOLEAN NOT NULL,
	record      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS bulk_jobs_in_progress_idx ON bulk_jobs (in_progress) WHERE in_progress;
`

// Store persists bulk jobs in PostgreSQL, one row per job.
type Store struct {
	Pool *pgxpool.Pool
}

// New connects to conn, retrying the initial ping with exponential
// backoff, and makes sure the jobs table exists.
func New(ctx context.Context, conn string, attempts int) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(attempts-1, 0)))
	if err := backoff.Retry(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Create(ctx context.Context, job *models.Job) error {

	record, err := json.Marshal(job)
	if err != nil {
		return err
	}

	tag, err := s.Pool.Exec(ctx,
		`INSERT INTO bulk_jobs
		 (id, in_progress, record, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,NOW())
		 ON CONFLICT (id) DO NOTHING`,
		job.ID,
		job.InProgress,
		record,
		job.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobExists
	}

	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*models.Job, error) {

	var record []byte
	err := s.Pool.QueryRow(ctx,
		`SELECT record FROM bulk_jobs WHERE id=$1`,
		id,
	).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal(record, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *Store) Save(ctx context.Context, job *models.Job) error {

	record, err := json.Marshal(job)
	if err != nil {
		return err
	}

	tag, err := s.Pool.Exec(ctx,
		`UPDATE bulk_jobs
		 SET in_progress=$1,
		     record=$2,
		     updated_at=NOW()
		 WHERE id=$3`,
		job.InProgress,
		record,
		job.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]string, error) {

	rows, err := s.Pool.Query(ctx,
		`SELECT id FROM bulk_jobs WHERE in_progress ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}
