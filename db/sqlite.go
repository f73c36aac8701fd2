// Package db records training runs in a SQLite ledger.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned by GetRun for an unknown ID.
var ErrRunNotFound = errors.New("db: training run not found")

const schema = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id TEXT PRIMARY KEY,
        started_at DATETIME NOT NULL,
        finished_at DATETIME NOT NULL,
        status TEXT NOT NULL,
        error TEXT DEFAULT '',
        data_path TEXT DEFAULT '',
        samples INTEGER DEFAULT 0,
        train_samples INTEGER DEFAULT 0,
        test_samples INTEGER DEFAULT 0,
        classifier TEXT DEFAULT '',
        best_combo TEXT DEFAULT '',
        cv_mean REAL DEFAULT 0,
        cv_std REAL DEFAULT 0,
        test_accuracy REAL DEFAULT 0,
        artifact_path TEXT DEFAULT ''
    );
    CREATE TABLE IF NOT EXISTS cv_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
        position INTEGER NOT NULL,
        combo TEXT NOT NULL,
        max_features INTEGER NOT NULL,
        ngram_min INTEGER NOT NULL,
        ngram_max INTEGER NOT NULL,
        c REAL NOT NULL,
        mean_score REAL NOT NULL,
        std_score REAL NOT NULL,
        UNIQUE(run_id, position)
    );
    CREATE TABLE IF NOT EXISTS class_metrics (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
        label TEXT NOT NULL,
        precision REAL NOT NULL,
        recall REAL NOT NULL,
        f1 REAL NOT NULL,
        support INTEGER NOT NULL,
        UNIQUE(run_id, label)
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at);
    `

// 运行状态
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one row of training_runs plus its child rows.
type Run struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	DataPath     string        `json:"data_path"`
	Samples      int           `json:"samples"`
	TrainSamples int           `json:"train_samples"`
	TestSamples  int           `json:"test_samples"`
	Classifier   string        `json:"classifier"`
	BestCombo    string        `json:"best_combo"`
	CVMean       float64       `json:"cv_mean"`
	CVStd        float64       `json:"cv_std"`
	TestAccuracy float64       `json:"test_accuracy"`
	ArtifactPath string        `json:"artifact_path"`
	CVResults    []CVResult    `json:"cv_results,omitempty"`
	ClassMetrics []ClassMetric `json:"class_metrics,omitempty"`
}

// CVResult is one evaluated combo.
type CVResult struct {
	Combo       string  `json:"combo"`
	MaxFeatures int     `json:"max_features"`
	NGramMin    int     `json:"ngram_min"`
	NGramMax    int     `json:"ngram_max"`
	C           float64 `json:"c"`
	MeanScore   float64 `json:"mean_score"`
	StdScore    float64 `json:"std_score"`
}

// ClassMetric is one row of the held-out classification report.
type ClassMetric struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Ledger 训练记录存储
type Ledger struct {
	db *sql.DB
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Open 打开数据库，不存在时创建
func Open(path string) (*Ledger, error) {
	database, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory: coherent.
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("db: create schema: %w", err)
	}
	return &Ledger{db: database}, nil
}

// Close 关闭数据库
func (l *Ledger) Close() error { return l.db.Close() }

// SaveRun 在同一事务中保存训练记录
func (l *Ledger) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO training_runs (
            id, started_at, finished_at, status, error, data_path, samples,
            train_samples, test_samples, classifier, best_combo, cv_mean, cv_std,
            test_accuracy, artifact_path
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status, run.Error, run.DataPath, run.Samples,
		run.TrainSamples, run.TestSamples, run.Classifier, run.BestCombo, run.CVMean, run.CVStd,
		run.TestAccuracy, run.ArtifactPath)
	if err != nil {
		return fmt.Errorf("db: insert run: %w", err)
	}

	if len(run.CVResults) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO cv_results (
                run_id, position, combo, max_features, ngram_min, ngram_max, c, mean_score, std_score
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range run.CVResults {
			if _, err := stmt.ExecContext(ctx, run.ID, i, r.Combo, r.MaxFeatures, r.NGramMin, r.NGramMax, r.C, r.MeanScore, r.StdScore); err != nil {
				return fmt.Errorf("db: insert cv result: %w", err)
			}
		}
	}

	if len(run.ClassMetrics) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO class_metrics (run_id, label, precision, recall, f1, support)
            VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range run.ClassMetrics {
			if _, err := stmt.ExecContext(ctx, run.ID, m.Label, m.Precision, m.Recall, m.F1, m.Support); err != nil {
				return fmt.Errorf("db: insert class metric: %w", err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `
        id, started_at, finished_at, status, error, data_path, samples, train_samples,
        test_samples, classifier, best_combo, cv_mean, cv_std, test_accuracy, artifact_path`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	err := s.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error, &r.DataPath, &r.Samples,
		&r.TrainSamples, &r.TestSamples, &r.Classifier, &r.BestCombo, &r.CVMean, &r.CVStd,
		&r.TestAccuracy, &r.ArtifactPath)
	return r, err
}

// ListRuns returns the most recent runs first, without child rows.
// limit <= 0 returns every run.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `SELECT`+runColumns+`
        FROM training_runs
        ORDER BY started_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its CV results and class metrics.
func (l *Ledger) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(l.db.QueryRowContext(ctx, `SELECT`+runColumns+`
        FROM training_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
        SELECT combo, max_features, ngram_min, ngram_max, c, mean_score, std_score
        FROM cv_results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c CVResult
		if err := rows.Scan(&c.Combo, &c.MaxFeatures, &c.NGramMin, &c.NGramMax, &c.C, &c.MeanScore, &c.StdScore); err != nil {
			rows.Close()
			return nil, err
		}
		r.CVResults = append(r.CVResults, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = l.db.QueryContext(ctx, `
        SELECT label, precision, recall, f1, support
        FROM class_metrics WHERE run_id = ? ORDER BY label`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m ClassMetric
		if err := rows.Scan(&m.Label, &m.Precision, &m.Recall, &m.F1, &m.Support); err != nil {
			return nil, err
		}
		r.ClassMetrics = append(r.ClassMetrics, m)
	}
	return &r, rows.Err()
}
