// Package runstore indexes pipeline runs and their per-stage outcomes in a
// local sqlite database, so past reconstructions stay queryable.
package runstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// Open creates or opens the run index at path and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			data_dir TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			points INTEGER,
			rms_error DOUBLE
		);
		CREATE TABLE IF NOT EXISTS stage_results (
			run_id TEXT,
			stage TEXT,
			artifact TEXT,
			error TEXT,
			duration_ms DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

// Run is one pipeline invocation.
type Run struct {
	ID         string
	DataDir    string
	StartedAt  time.Time
	FinishedAt time.Time
	Points     int
	RMSError   float64
}

// StageRecord is the stored outcome of one stage within a run.
type StageRecord struct {
	RunID    string
	Stage    string
	Artifact string
	Error    string
	Duration time.Duration
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// BeginRun registers a new run and returns its ID.
func (db *DB) BeginRun(dataDir string, startedAt time.Time) (string, error) {
	id := NewRunID()
	_, err := db.Exec(
		"INSERT INTO runs (run_id, data_dir, started_at) VALUES (?, ?, ?)",
		id, dataDir, startedAt,
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final outcome of a run.
func (db *DB) FinishRun(id string, finishedAt time.Time, points int, rms float64) error {
	_, err := db.Exec(
		"UPDATE runs SET finished_at = ?, points = ?, rms_error = ? WHERE run_id = ?",
		finishedAt, points, rms, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	return nil
}

// RecordStage stores one stage outcome for a run.
func (db *DB) RecordStage(rec StageRecord) error {
	_, err := db.Exec(
		"INSERT INTO stage_results (run_id, stage, artifact, error, duration_ms) VALUES (?, ?, ?, ?, ?)",
		rec.RunID, rec.Stage, rec.Artifact, rec.Error, float64(rec.Duration)/float64(time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("recording stage %s: %w", rec.Stage, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`
		SELECT run_id, data_dir, started_at, finished_at,
		       COALESCE(points, 0), COALESCE(rms_error, 0)
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.DataDir, &r.StartedAt, &finished, &r.Points, &r.RMSError); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		} else {
			r.FinishedAt = r.StartedAt
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListStages returns the stored stage outcomes for one run in insertion
// order.
func (db *DB) ListStages(runID string) ([]StageRecord, error) {
	rows, err := db.Query(
		"SELECT run_id, stage, artifact, error, duration_ms FROM stage_results WHERE run_id = ? ORDER BY rowid",
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StageRecord
	for rows.Next() {
		var rec StageRecord
		var ms float64
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.Artifact, &rec.Error, &ms); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(ms * float64(time.Millisecond))
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
