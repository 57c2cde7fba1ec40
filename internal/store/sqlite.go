package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dstauffer/kiln/internal/model"

	_ "modernc.org/sqlite"
)

const createExperimentsTable = `
CREATE TABLE IF NOT EXISTS experiments (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    description TEXT,
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
)`

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    job_token        TEXT NOT NULL UNIQUE,
    experiment_id    INTEGER NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    name             TEXT NOT NULL,
    model_kind       TEXT NOT NULL,
    parameters       TEXT NOT NULL,
    status           TEXT NOT NULL,
    best_metric      REAL,
    total_time_s     REAL,
    epochs_completed INTEGER NOT NULL DEFAULT 0,
    history          TEXT,
    error            TEXT,
    created_at       DATETIME NOT NULL,
    started_at       DATETIME,
    completed_at     DATETIME
)`

const createJobsExperimentIndex = `
CREATE INDEX IF NOT EXISTS idx_jobs_experiment ON jobs (experiment_id, model_kind)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection; the pool must not open
	// a second one.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	for _, stmt := range []string{createExperimentsTable, createJobsTable, createJobsExperimentIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExperiment inserts a new experiment record and fills in its id.
func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *model.Experiment) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO experiments (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)",
		e.Name, e.Description, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("experiment id: %w", err)
	}
	e.ID = id
	return nil
}

// GetExperiment retrieves an experiment by id.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id int64) (*model.Experiment, error) {
	e := &model.Experiment{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM experiments WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &e.Description, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return e, nil
}

// ListExperiments returns a paginated list of experiments ordered by creation
// time, along with the total count.
func (s *SQLiteStore) ListExperiments(ctx context.Context, limit, offset int) ([]*model.Experiment, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM experiments").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count experiments: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM experiments ORDER BY id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*model.Experiment
	for rows.Next() {
		e := &model.Experiment{}
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan experiment: %w", err)
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate experiments: %w", err)
	}

	return experiments, total, nil
}

// DeleteExperiment removes an experiment. Its jobs are removed by the
// ON DELETE CASCADE constraint.
func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM experiments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	return checkAffected(res)
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			job_token, experiment_id, name, model_kind, parameters, status,
			epochs_completed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Token, j.ExperimentID, j.Name, j.ModelKind, string(params), j.Status,
		j.EpochsCompleted, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `job_token, experiment_id, name, model_kind, parameters, status,
	best_metric, total_time_s, epochs_completed, history, error,
	created_at, started_at, completed_at`

// scanJob scans one job row, including parameters and history JSON columns.
func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	j := &model.Job{}
	var params string
	var history, errMsg sql.NullString
	err := row.Scan(
		&j.Token, &j.ExperimentID, &j.Name, &j.ModelKind, &params, &j.Status,
		&j.BestMetric, &j.TotalTimeSeconds, &j.EpochsCompleted, &history, &errMsg,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &j.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &j.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	j.Error = errMsg.String
	return j, nil
}

// GetJob retrieves a job by token, including its history.
func (s *SQLiteStore) GetJob(ctx context.Context, token string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE job_token = ?", token)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by creation, along with
// the total count for the filter. History is omitted to keep list rows light;
// fetch a single job for the full series.
func (s *SQLiteStore) ListJobs(ctx context.Context, experimentID int64, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where := ""
	args := []any{}
	if experimentID != 0 {
		where = " WHERE experiment_id = ?"
		args = append(args, experimentID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := `SELECT job_token, experiment_id, name, model_kind, parameters, status,
		best_metric, total_time_s, epochs_completed, error,
		created_at, started_at, completed_at
		FROM jobs` + where + " ORDER BY id LIMIT ? OFFSET ?"
	rows, err := tx.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j := &model.Job{}
		var params string
		var errMsg sql.NullString
		if err := rows.Scan(
			&j.Token, &j.ExperimentID, &j.Name, &j.ModelKind, &params, &j.Status,
			&j.BestMetric, &j.TotalTimeSeconds, &j.EpochsCompleted, &errMsg,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &j.Parameters); err != nil {
			return nil, 0, fmt.Errorf("unmarshal parameters: %w", err)
		}
		j.Error = errMsg.String
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// ListJobsByKind returns every job for the given experiment and model kind in
// ascending creation order. Used by duplicate detection, which needs a
// deterministic candidate order.
func (s *SQLiteStore) ListJobsByKind(ctx context.Context, experimentID int64, kind string) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE experiment_id = ? AND model_kind = ? ORDER BY id",
		experimentID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs by kind: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob performs the compare-and-set from pending to running. A zero-row
// update means either the job does not exist or another writer got there
// first; the two cases are distinguished so a lost claim is reported as
// ErrInvalidTransition.
func (s *SQLiteStore) ClaimJob(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, started_at = ? WHERE job_token = ? AND status = ?",
		model.StatusRunning, time.Now().UTC(), token, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	return s.checkJobAffected(ctx, res, token)
}

// SetJobProgress records the number of completed epochs for a running job.
func (s *SQLiteStore) SetJobProgress(ctx context.Context, token string, epochsCompleted int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET epochs_completed = ? WHERE job_token = ? AND status = ?",
		epochsCompleted, token, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}
	return s.checkJobAffected(ctx, res, token)
}

// CompleteJob marks a running job completed and stores its result fields.
func (s *SQLiteStore) CompleteJob(ctx context.Context, token string, result *model.Result) error {
	history, err := json.Marshal(result.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, best_metric = ?, total_time_s = ?, history = ?, completed_at = ?
		WHERE job_token = ? AND status = ?`,
		model.StatusCompleted, result.BestMetric, result.TotalTimeSeconds, string(history),
		time.Now().UTC(), token, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return s.checkJobAffected(ctx, res, token)
}

// FailJob marks a pending or running job failed with an error description.
func (s *SQLiteStore) FailJob(ctx context.Context, token string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE job_token = ? AND status IN (?, ?)",
		model.StatusFailed, errMsg, time.Now().UTC(), token,
		model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return s.checkJobAffected(ctx, res, token)
}

// CancelJob performs the compare-and-set from pending or running to cancelled.
func (s *SQLiteStore) CancelJob(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, completed_at = ? WHERE job_token = ? AND status IN (?, ?)",
		model.StatusCancelled, time.Now().UTC(), token,
		model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return s.checkJobAffected(ctx, res, token)
}

// DeleteJob removes a job record.
func (s *SQLiteStore) DeleteJob(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE job_token = ?", token)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return checkAffected(res)
}

// GetJobStats returns aggregate job statistics.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = tx.QueryContext(ctx, "SELECT model_kind, COUNT(*) FROM jobs GROUP BY model_kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(total_time_s) FROM jobs WHERE status = ?", model.StatusCompleted,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average train time: %w", err)
	}
	stats.AvgTrainSeconds = avg.Float64

	return stats, nil
}

// checkJobAffected maps a zero-row update to ErrNotFound when the job is
// missing and ErrInvalidTransition when it exists in a state the update does
// not cover.
func (s *SQLiteStore) checkJobAffected(ctx context.Context, res sql.Result, token string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE job_token = ?", token).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	return ErrInvalidTransition
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
