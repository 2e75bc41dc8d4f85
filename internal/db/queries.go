package db

import (
	"database/sql"
	"fmt"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	JobID     string
	Project   string
	Event     string
	Phase     string
	Data      string
	Timestamp string
}

// GateRun represents a row in the gate_runs table.
type GateRun struct {
	ID        int
	Project   string
	Phase     string
	Attempt   int
	Gate      string
	Passed    bool
	Message   string
	Details   string
	Timestamp string
}

// PipelineRun represents a row in the pipeline_runs table.
type PipelineRun struct {
	ID         int
	JobID      string
	Project    string
	Status     string
	Error      string
	StartedAt  string
	FinishedAt string
}

// LogRunEvent inserts one event from a job's stream. data is a JSON blob.
func (d *DB) LogRunEvent(jobID, project, event, phase, data string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (job_id, project, event, phase, data) VALUES (?, ?, ?, ?, ?)`,
		jobID, project, event, phase, data,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// EventHistory returns all events recorded for a project, newest first.
func (d *DB) EventHistory(project string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, job_id, project, event, phase, data, timestamp
		 FROM run_events WHERE project = ? ORDER BY id DESC`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("get event history: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var phase, data sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.Project, &e.Event, &phase, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if phase.Valid {
			e.Phase = phase.String
		}
		if data.Valid {
			e.Data = data.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// JobEvents returns all events recorded for one job, oldest first.
func (d *DB) JobEvents(jobID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, job_id, project, event, phase, data, timestamp
		 FROM run_events WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get job events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var phase, data sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.Project, &e.Event, &phase, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		if phase.Valid {
			e.Phase = phase.String
		}
		if data.Valid {
			e.Data = data.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogGateRun inserts one quality gate check outcome.
func (d *DB) LogGateRun(project, phase string, attempt int, gateName string, passed bool, message, details string) error {
	_, err := d.conn.Exec(
		`INSERT INTO gate_runs (project, phase, attempt, gate, passed, message, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project, phase, attempt, gateName, passed, message, details,
	)
	if err != nil {
		return fmt.Errorf("log gate run: %w", err)
	}
	return nil
}

// GateHistory returns all gate runs for a project and phase, ordered by attempt.
func (d *DB) GateHistory(project, phase string) ([]GateRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, project, phase, attempt, gate, passed, message, details, timestamp
		 FROM gate_runs WHERE project = ? AND phase = ? ORDER BY attempt, id`,
		project, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("get gate history: %w", err)
	}
	defer rows.Close()

	var runs []GateRun
	for rows.Next() {
		r, err := scanGateRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LatestFailedGates returns, per phase, the most recent gate run for a project
// where that latest run failed.
func (d *DB) LatestFailedGates(project string) ([]GateRun, error) {
	rows, err := d.conn.Query(`
		SELECT gr.id, gr.project, gr.phase, gr.attempt, gr.gate, gr.passed, gr.message, gr.details, gr.timestamp
		FROM gate_runs gr
		INNER JOIN (
			SELECT phase, MAX(id) as max_id
			FROM gate_runs
			WHERE project = ?
			GROUP BY phase
		) latest ON gr.id = latest.max_id
		WHERE gr.passed = 0
		ORDER BY gr.phase`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("get latest failed gates: %w", err)
	}
	defer rows.Close()

	var runs []GateRun
	for rows.Next() {
		r, err := scanGateRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanGateRun(rows *sql.Rows) (*GateRun, error) {
	var r GateRun
	var message, details sql.NullString
	if err := rows.Scan(&r.ID, &r.Project, &r.Phase, &r.Attempt, &r.Gate, &r.Passed, &message, &details, &r.Timestamp); err != nil {
		return nil, fmt.Errorf("scan gate run: %w", err)
	}
	if message.Valid {
		r.Message = message.String
	}
	if details.Valid {
		r.Details = details.String
	}
	return &r, nil
}

// StartPipelineRun records a new running pipeline for a job.
func (d *DB) StartPipelineRun(jobID, project string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_runs (job_id, project, status) VALUES (?, ?, 'running')`,
		jobID, project,
	)
	if err != nil {
		return fmt.Errorf("start pipeline run: %w", err)
	}
	return nil
}

// FinishPipelineRun records a pipeline run's final status and error message.
func (d *DB) FinishPipelineRun(jobID, status, errMsg string) error {
	res, err := d.conn.Exec(
		`UPDATE pipeline_runs SET status = ?, error = ?, finished_at = datetime('now') WHERE job_id = ?`,
		status, errMsg, jobID,
	)
	if err != nil {
		return fmt.Errorf("finish pipeline run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pipeline run %q not found", jobID)
	}
	return nil
}

// GetPipelineRun returns the run recorded for one job.
func (d *DB) GetPipelineRun(jobID string) (*PipelineRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, job_id, project, status, error, started_at, finished_at
		 FROM pipeline_runs WHERE job_id = ?`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("pipeline run %q not found", jobID)
	}
	return scanPipelineRun(rows)
}

// RunHistory returns all pipeline runs for a project, newest first.
func (d *DB) RunHistory(project string) ([]PipelineRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, job_id, project, status, error, started_at, finished_at
		 FROM pipeline_runs WHERE project = ? ORDER BY id DESC`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		r, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ActiveRuns returns all pipeline runs still marked running.
func (d *DB) ActiveRuns() ([]PipelineRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, job_id, project, status, error, started_at, finished_at
		 FROM pipeline_runs WHERE status = 'running' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("get active runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		r, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanPipelineRun(rows *sql.Rows) (*PipelineRun, error) {
	var r PipelineRun
	var errMsg, finishedAt sql.NullString
	if err := rows.Scan(&r.ID, &r.JobID, &r.Project, &r.Status, &errMsg, &r.StartedAt, &finishedAt); err != nil {
		return nil, fmt.Errorf("scan pipeline run: %w", err)
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.String
	}
	return &r, nil
}
