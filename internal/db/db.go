// Package db records sweep runs in a local sqlite database so the monitor
// API can list past measurements and locate their output files.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the run database at path and ensures the base
// schema exists. Schema changes beyond the base table are applied with
// MigrateUp.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id        TEXT PRIMARY KEY,
			tag           TEXT,
			pattern       TEXT NOT NULL,
			tau_start     DOUBLE,
			tau_stop      DOUBLE,
			tau_step      DOUBLE,
			tau_count     BIGINT,
			repetitions   BIGINT,
			averages      BIGINT,
			mw_power_dbm  DOUBLE,
			mw_freq_hz    DOUBLE,
			roi_width     BIGINT,
			roi_height    BIGINT,
			status        TEXT NOT NULL,
			error         TEXT,
			data_path     TEXT,
			report_path   TEXT,
			plot_path     TEXT,
			fit_model     TEXT,
			fit_params    TEXT,
			fit_rmse      DOUBLE,
			started_at    TIMESTAMP NOT NULL,
			completed_at  TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db}, nil
}

// Run statuses stored in the runs table.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Run is one sweep measurement.
type Run struct {
	ID          string     `json:"run_id"`
	Tag         string     `json:"tag"`
	Pattern     string     `json:"pattern"`
	TauStart    float64    `json:"tau_start"`
	TauStop     float64    `json:"tau_stop"`
	TauStep     float64    `json:"tau_step"`
	TauCount    int        `json:"tau_count"`
	Repetitions int        `json:"repetitions"`
	Averages    int        `json:"averages"`
	MWPowerDBm  float64    `json:"mw_power_dbm"`
	MWFreqHz    float64    `json:"mw_freq_hz"`
	ROIWidth    int        `json:"roi_width"`
	ROIHeight   int        `json:"roi_height"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	DataPath    string     `json:"data_path,omitempty"`
	ReportPath  string     `json:"report_path,omitempty"`
	PlotPath    string     `json:"plot_path,omitempty"`
	FitModel    string     `json:"fit_model,omitempty"`
	FitParams   string     `json:"fit_params,omitempty"`
	FitRMSE     float64    `json:"fit_rmse,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// InsertRun records the start of a sweep.
func (db *DB) InsertRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (
			run_id, tag, pattern,
			tau_start, tau_stop, tau_step, tau_count,
			repetitions, averages, mw_power_dbm, mw_freq_hz,
			roi_width, roi_height,
			status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Tag, r.Pattern,
		r.TauStart, r.TauStop, r.TauStep, r.TauCount,
		r.Repetitions, r.Averages, r.MWPowerDBm, r.MWFreqHz,
		r.ROIWidth, r.ROIHeight,
		r.Status, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// CompleteRun records the outcome of a sweep. Output paths are empty for
// aborted runs.
func (db *DB) CompleteRun(id, status, errMsg, dataPath, reportPath, plotPath string) error {
	res, err := db.Exec(`
		UPDATE runs
		SET status = ?, error = ?, data_path = ?, report_path = ?, plot_path = ?, completed_at = ?
		WHERE run_id = ?`,
		status, errMsg, dataPath, reportPath, plotPath, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("complete run %s: no such run", id)
	}
	return nil
}

// RecordFit stores the model fitted to a completed sweep. Params is a
// human-readable "name=value" list as produced by fit.Result.String.
func (db *DB) RecordFit(id, model, params string, rmse float64) error {
	res, err := db.Exec(`
		UPDATE runs
		SET fit_model = ?, fit_params = ?, fit_rmse = ?
		WHERE run_id = ?`,
		model, params, rmse, id,
	)
	if err != nil {
		return fmt.Errorf("record fit for run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record fit for run %s: no such run", id)
	}
	return nil
}

// GetRun returns one run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(selectRuns+" WHERE run_id = ?", id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(selectRuns+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const selectRuns = `
	SELECT run_id, tag, pattern,
	       tau_start, tau_stop, tau_step, tau_count,
	       repetitions, averages, mw_power_dbm, mw_freq_hz,
	       roi_width, roi_height,
	       status, COALESCE(error, ''),
	       COALESCE(data_path, ''), COALESCE(report_path, ''), COALESCE(plot_path, ''),
	       COALESCE(fit_model, ''), COALESCE(fit_params, ''), COALESCE(fit_rmse, 0),
	       started_at, completed_at
	FROM runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var completed sql.NullTime
	err := s.Scan(
		&r.ID, &r.Tag, &r.Pattern,
		&r.TauStart, &r.TauStop, &r.TauStep, &r.TauCount,
		&r.Repetitions, &r.Averages, &r.MWPowerDBm, &r.MWFreqHz,
		&r.ROIWidth, &r.ROIHeight,
		&r.Status, &r.Error,
		&r.DataPath, &r.ReportPath, &r.PlotPath,
		&r.FitModel, &r.FitParams, &r.FitRMSE,
		&r.StartedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
