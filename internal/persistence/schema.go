package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		scraper TEXT NOT NULL,
		agent TEXT NOT NULL,
		params TEXT,
		state TEXT NOT NULL,
		errors TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_scraper_agent ON jobs(scraper, agent);

	CREATE TABLE IF NOT EXISTS task_states (
		job_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		task TEXT NOT NULL,
		state TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (job_id, agent, task),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_states_job_id ON task_states(job_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
