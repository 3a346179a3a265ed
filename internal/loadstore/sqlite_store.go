// Package loadstore persists dataset load job history using SQLite.
package loadstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of a load job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// LoadParams describes what a load job reads.
type LoadParams struct {
	DatasetID string `json:"dataset_id"`
	Path      string `json:"path"`
	Format    string `json:"format,omitempty"`
}

// LoadResult summarizes the table a completed job installed.
type LoadResult struct {
	Version    string `json:"version"`
	NumEvents  int    `json:"num_events"`
	NumNeurons int    `json:"num_neurons"`
	NumTrials  int    `json:"num_trials"`
	State      string `json:"state"`
}

// LoadJob is one attempt to (re)load a dataset.
type LoadJob struct {
	ID         string     `json:"job_id"`
	DatasetID  string     `json:"dataset_id"`
	Status     JobStatus  `json:"status"`
	Params     LoadParams `json:"params"`
	Phase      string     `json:"phase"`
	Result     LoadResult `json:"result"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Store provides persistent storage for load jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based load store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS load_jobs (
		job_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		version TEXT DEFAULT '',
		num_events INTEGER DEFAULT 0,
		num_neurons INTEGER DEFAULT 0,
		num_trials INTEGER DEFAULT 0,
		state TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_load_jobs_dataset ON load_jobs(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_load_jobs_status ON load_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_load_jobs_finished ON load_jobs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `job_id, dataset_id, status, params_json, phase, version, num_events, num_neurons, num_trials, state, error, created_at, started_at, finished_at`

// CreateJob inserts a new job record.
func (s *Store) CreateJob(job *LoadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO load_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.DatasetID,
		string(job.Status),
		string(paramsJSON),
		job.Phase,
		job.Result.Version,
		job.Result.NumEvents,
		job.Result.NumNeurons,
		job.Result.NumTrials,
		job.Result.State,
		job.Error,
		job.CreatedAt.Format(time.RFC3339Nano),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID. It returns nil, nil for an unknown id.
func (s *Store) GetJob(jobID string) (*LoadJob, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM load_jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := s.scanJobs(rows)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// UpdateJobStatus updates the job status; terminal statuses stamp the finish
// time.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := time.Now().Format(time.RFC3339Nano)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE load_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		UPDATE load_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateJobPhase records the pipeline stage a running job has reached.
func (s *Store) UpdateJobPhase(jobID, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE load_jobs SET phase = ? WHERE job_id = ?`, phase, jobID)
	return err
}

// UpdateJobResult stores the summary of the installed table.
func (s *Store) UpdateJobResult(jobID string, r LoadResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE load_jobs SET version = ?, num_events = ?, num_neurons = ?, num_trials = ?, state = ?
		WHERE job_id = ?
	`, r.Version, r.NumEvents, r.NumNeurons, r.NumTrials, r.State, jobID)
	return err
}

// ListJobsByDataset returns all jobs for a dataset, newest first.
func (s *Store) ListJobsByDataset(datasetID string) ([]*LoadJob, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+`
		FROM load_jobs WHERE dataset_id = ?
		ORDER BY created_at DESC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*LoadJob, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+`
		FROM load_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanJobs(rows)
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		UPDATE load_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	result, err := s.db.Exec(`
		DELETE FROM load_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job record.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM load_jobs WHERE job_id = ?", jobID)
	return err
}

func (s *Store) scanJobs(rows *sql.Rows) ([]*LoadJob, error) {
	var jobs []*LoadJob
	for rows.Next() {
		var job LoadJob
		var paramsJSON string
		var createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		err := rows.Scan(
			&job.ID,
			&job.DatasetID,
			&job.Status,
			&paramsJSON,
			&job.Phase,
			&job.Result.Version,
			&job.Result.NumEvents,
			&job.Result.NumNeurons,
			&job.Result.NumTrials,
			&job.Result.State,
			&job.Error,
			&createdAtStr,
			&startedAtStr,
			&finishedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339Nano, startedAtStr.String)
			job.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedAtStr.String)
			job.FinishedAt = &t
		}

		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
