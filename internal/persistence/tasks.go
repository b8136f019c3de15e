package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveTaskState saves or updates the state of one task instance.
// The job must have been saved first.
func (s *SQLiteStore) SaveTaskState(ctx context.Context, task *TaskRecord) error {
	var result sql.NullString
	if len(task.Result) > 0 {
		result = sql.NullString{String: string(task.Result), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (job_id, agent, task, state, attempt, result, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(job_id, agent, task) DO UPDATE SET
			state = excluded.state,
			attempt = excluded.attempt,
			result = excluded.result,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, task.JobID, task.Ref.Agent, task.Ref.Task, task.State, task.Attempt, result, task.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert task state %s: %w", task.Ref, err)
	}
	return nil
}

// ListTaskStates returns the task states of a job ordered by agent and task.
func (s *SQLiteStore) ListTaskStates(ctx context.Context, jobID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, agent, task, state, attempt, result, error
		FROM task_states
		WHERE job_id = ?
		ORDER BY agent, task
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task states: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		task := &TaskRecord{}
		var result, errStr sql.NullString
		if err := rows.Scan(&task.JobID, &task.Ref.Agent, &task.Ref.Task, &task.State, &task.Attempt, &result, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan task state: %w", err)
		}
		if result.Valid {
			task.Result = json.RawMessage(result.String)
		}
		task.Error = errStr.String
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task states: %w", err)
	}
	return tasks, nil
}
