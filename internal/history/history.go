// Package history keeps a local SQLite log of CLI analyses.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fedutinova/retinascan/internal/report"
	"github.com/fedutinova/retinascan/internal/risk"
)

const fileName = "history.db"

// Entry is one recorded analysis.
type Entry struct {
	ID          int64
	ImageName   string
	Preset      string
	Score       float64
	Level       risk.Level
	DarkCount   int
	BrightCount int
	ReportPath  string
	AnalyzedAt  time.Time
	Report      *report.Report
}

type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the history database inside dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	path := filepath.Join(dir, fileName)

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_name TEXT NOT NULL,
		preset TEXT NOT NULL,
		score REAL NOT NULL,
		level TEXT NOT NULL,
		dark_count INTEGER NOT NULL,
		bright_count INTEGER NOT NULL,
		report_path TEXT,
		report_json TEXT NOT NULL,
		analyzed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_image ON analyses(image_name);
	`)
	return err
}

// Record stores r. reportPath may be empty when the report was only printed.
func (s *Store) Record(ctx context.Context, r *report.Report, reportPath string) (int64, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal report: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (image_name, preset, score, level, dark_count, bright_count, report_path, report_json, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ImageName, r.Preset, r.RiskAssessment.Score, string(r.RiskAssessment.Level),
		r.LesionAnalysis.Dark.Count, r.LesionAnalysis.Bright.Count,
		reportPath, string(raw), r.AnalysisDate.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record analysis: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. image filters by name when non-empty.
func (s *Store) Recent(ctx context.Context, limit int, image string) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, image_name, preset, score, level, dark_count, bright_count,
	             COALESCE(report_path, ''), report_json, analyzed_at
	      FROM analyses`
	args := []any{}
	if image != "" {
		q += ` WHERE image_name = ?`
		args = append(args, image)
	}
	q += ` ORDER BY analyzed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			level string
			raw   string
		)
		if err := rows.Scan(&e.ID, &e.ImageName, &e.Preset, &e.Score, &level,
			&e.DarkCount, &e.BrightCount, &e.ReportPath, &raw, &e.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Level = risk.Level(level)
		var r report.Report
		if err := json.Unmarshal([]byte(raw), &r); err == nil {
			e.Report = &r
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
