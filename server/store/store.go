// Package store persists finished analysis jobs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/san-kum/rep-integrity/server/models"
)

var ErrNotFound = errors.New("run not found")

const DefaultListLimit = 50

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string, maxConns int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	version, dirty, err := s.MigrateVersion()
	if err == nil && dirty {
		err = fmt.Errorf("database schema version %d is dirty", version)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database ready", zap.String("path", path), zap.Uint("schema_version", version))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces the record of a job.
func (s *Store) SaveRun(ctx context.Context, job *models.AnalysisJob) error {
	athlete, err := json.Marshal(job.Athlete)
	if err != nil {
		return fmt.Errorf("failed to encode athlete: %w", err)
	}

	var (
		result     sql.NullString
		runStatus  string
		totalReps  int
		validReps  int
		score      float64
		cheat      bool
		finishedAt sql.NullInt64
	)
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
		runStatus = string(job.Result.Status)
		totalReps = job.Result.TotalReps
		validReps = job.Result.ValidReps
		score = job.Result.IntegrityScore
		cheat = job.Result.CheatFlag
	}
	if job.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: job.FinishedAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (job_id, exercise, source, filename, athlete, status, run_status,
			total_reps, valid_reps, integrity_score, cheat_flag, error, result, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			exercise = excluded.exercise,
			status = excluded.status,
			run_status = excluded.run_status,
			total_reps = excluded.total_reps,
			valid_reps = excluded.valid_reps,
			integrity_score = excluded.integrity_score,
			cheat_flag = excluded.cheat_flag,
			error = excluded.error,
			result = excluded.result,
			finished_at = excluded.finished_at`,
		job.ID, job.Exercise, string(job.Source), job.Filename, string(athlete), string(job.Status), runStatus,
		totalReps, validReps, score, cheat, job.Error, result, job.CreatedAt.UnixNano(), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", job.ID, err)
	}
	return nil
}

// GetRun loads a job with its full result.
func (s *Store) GetRun(ctx context.Context, id string) (*models.AnalysisJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, exercise, source, filename, athlete, status, error, result, created_at, finished_at
		FROM runs WHERE job_id = ?`, id)

	var (
		job        models.AnalysisJob
		source     string
		status     string
		athlete    string
		result     sql.NullString
		createdAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.Exercise, &source, &job.Filename, &athlete, &status, &job.Error, &result, &createdAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	job.Source = models.JobSource(source)
	job.Status = models.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64).UTC()
		job.FinishedAt = &t
	}
	if athlete != "" && athlete != "null" {
		if err := json.Unmarshal([]byte(athlete), &job.Athlete); err != nil {
			return nil, fmt.Errorf("failed to decode athlete of run %s: %w", id, err)
		}
	}
	if result.Valid {
		job.Result = &models.AnalysisResult{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of run %s: %w", id, err)
		}
	}
	job.Progress = 1
	if !job.Status.Done() {
		job.Progress = 0
	}
	return &job, nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.JobSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, exercise, filename, run_status, total_reps, valid_reps, integrity_score, cheat_flag, created_at
		FROM runs ORDER BY created_at DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	summaries := []models.JobSummary{}
	for rows.Next() {
		var (
			sum       models.JobSummary
			runStatus string
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.Exercise, &sum.Filename, &runStatus, &sum.TotalReps, &sum.ValidReps,
			&sum.IntegrityScore, &sum.CheatFlag, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.Status = models.RunStatus(runStatus)
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return summaries, nil
}

// CountRuns is the number of persisted runs.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}
