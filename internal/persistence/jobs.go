package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/yakuza/internal/definition"
)

// SaveJob saves or updates a job record.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *JobRecord) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		params = EncodeResult(fmt.Sprintf("%v", job.Params))
	}
	errs, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode job errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, scraper, agent, params, state, errors, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			errors = excluded.errors,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = CURRENT_TIMESTAMP
	`, job.ID, job.Scraper, job.Agent, string(params), job.State, string(errs), nullTime(job.StartedAt), nullTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job record by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scraper, agent, params, state, errors, started_at, finished_at
		FROM jobs
		WHERE id = ?
	`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &definition.NotFoundError{Kind: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// ListJobs returns all job records, oldest first.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scraper, agent, params, state, errors, started_at, finished_at
		FROM jobs
		ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	job := &JobRecord{}
	var params, errs sql.NullString
	var started, finished sql.NullTime

	if err := row.Scan(&job.ID, &job.Scraper, &job.Agent, &params, &job.State, &errs, &started, &finished); err != nil {
		return nil, err
	}

	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &job.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params of job %s: %w", job.ID, err)
		}
	}
	if errs.Valid && errs.String != "" && errs.String != "null" {
		if err := json.Unmarshal([]byte(errs.String), &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors of job %s: %w", job.ID, err)
		}
	}
	if started.Valid {
		job.StartedAt = started.Time
	}
	if finished.Valid {
		job.FinishedAt = finished.Time
	}
	return job, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
