package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"job-feed-importer/internal/models"
)

// Store wraps pgxpool for Postgres persistence of import runs and jobs.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRun inserts a pending import run for the given source.
func (s *Store) CreateRun(ctx context.Context, source string) (models.ImportRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_runs (id, source, started_at, status, failures, updated_at)
		VALUES ($1, $2, $3, $4, '[]'::jsonb, $3)
	`, id, source, now, models.RunPending)
	if err != nil {
		return models.ImportRun{}, fmt.Errorf("insert import run: %w", err)
	}
	return models.ImportRun{
		ID:        id,
		Source:    source,
		StartedAt: now,
		Status:    models.RunPending,
		Failures:  []models.ImportFailure{},
		UpdatedAt: now,
	}, nil
}

// BeginProcessing records the fetched count and moves the run to processing.
// Must happen before any message for the run is enqueued so worker-side
// completion checks see the final total.
func (s *Store) BeginProcessing(ctx context.Context, id string, totalFetched int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_runs
		SET total_fetched = $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`, id, totalFetched, models.RunProcessing)
	return err
}

// MarkRunFailed terminally fails a whole run, e.g. on fetch or parse errors.
func (s *Store) MarkRunFailed(ctx context.Context, id string, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_runs
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.RunFailed, message)
	return err
}

// MarkRunCompleted completes a run directly, with an optional note for runs that
// had nothing to do.
func (s *Store) MarkRunCompleted(ctx context.Context, id string, note string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_runs
		SET status = $2, error_message = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
	`, id, models.RunCompleted, note)
	return err
}

// RecordNew bumps new_count and total_imported in one statement. Row-level
// atomicity in Postgres makes concurrent increments from workers safe.
func (s *Store) RecordNew(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_runs
		SET new_count = new_count + 1, total_imported = total_imported + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// RecordUpdated bumps updated_count and total_imported in one statement.
func (s *Store) RecordUpdated(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_runs
		SET updated_count = updated_count + 1, total_imported = total_imported + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// AppendFailure appends one failure entry to the run's failure list. jsonb
// concatenation appends in place, so concurrent appends are never lost.
func (s *Store) AppendFailure(ctx context.Context, id string, f models.ImportFailure) error {
	entry, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal failure entry: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE import_runs
		SET failures = failures || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, entry)
	return err
}

// TryComplete flips a processing run to completed once every fetched record has
// been imported or recorded as a failure. The condition and the flip are one
// statement, so only the worker accounting for the last record succeeds; all
// other calls are no-ops. Returns whether this call performed the flip.
func (s *Store) TryComplete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_runs
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		  AND status = $3
		  AND total_imported + jsonb_array_length(failures) >= total_fetched
	`, id, models.RunCompleted, models.RunProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListRuns returns all import runs, most recently started first.
func (s *Store) ListRuns(ctx context.Context) ([]models.ImportRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, started_at, status, total_fetched, total_imported,
		       new_count, updated_count, failures, error_message, updated_at
		FROM import_runs
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.ImportRun, 0)
	for rows.Next() {
		var run models.ImportRun
		var failuresJSON []byte
		var errMsg pgtype.Text
		if err := rows.Scan(&run.ID, &run.Source, &run.StartedAt, &run.Status,
			&run.TotalFetched, &run.TotalImported, &run.NewCount, &run.UpdatedCount,
			&failuresJSON, &errMsg, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		if err := json.Unmarshal(failuresJSON, &run.Failures); err != nil {
			return nil, fmt.Errorf("unmarshal failures for run %s: %w", run.ID, err)
		}
		if errMsg.Valid {
			run.ErrorMessage = &errMsg.String
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import runs: %w", err)
	}
	return runs, nil
}

// UpsertResult tags which branch an atomic upsert took.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Replaced
)

var errMissingExternalID = errors.New("candidate record has no external id")

// UpsertJob inserts or merges a job keyed by external_id. The insert-vs-update
// classification comes from the statement itself (xmax = 0 only for freshly
// inserted rows), not from a separate existence check, so concurrent applies of
// the same external id classify correctly.
func (s *Store) UpsertJob(ctx context.Context, rec models.CandidateRecord) (UpsertResult, error) {
	if rec.ExternalID == "" {
		return 0, errMissingExternalID
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, external_id, title, description, company, location, salary,
		                  job_url, source_url, published_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			company = EXCLUDED.company,
			location = EXCLUDED.location,
			salary = EXCLUDED.salary,
			job_url = EXCLUDED.job_url,
			source_url = EXCLUDED.source_url,
			published_date = EXCLUDED.published_date,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, uuid.New().String(), rec.ExternalID, rec.Title, rec.Description,
		emptyToNil(rec.Company), emptyToNil(rec.Location), emptyToNil(rec.Salary),
		emptyToNil(rec.JobURL), rec.SourceURL, rec.PublishedDate).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("upsert job %s: %w", rec.ExternalID, err)
	}
	if inserted {
		return Inserted, nil
	}
	return Replaced, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
