// Package sqlite provides an embedded score.Store on modernc.org/sqlite, a
// pure-Go SQLite driver. Use it for single-user installs without a
// PostgreSQL server; ":memory:" gives a throwaway store for tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/MrWong99/tilawa/pkg/score"
)

var _ score.Store = (*Store)(nil)

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists scores in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite score store: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite score store: open: %w", err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite score store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS scores (
			id INTEGER PRIMARY KEY,
			session_key TEXT NOT NULL,
			mode TEXT NOT NULL,
			accuracy INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS exams (
			id INTEGER PRIMARY KEY,
			session_key TEXT NOT NULL,
			accuracy INTEGER NOT NULL,
			total_expected INTEGER NOT NULL,
			total_correct INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS confusions (
			exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
			session_key TEXT NOT NULL,
			spoken_letter TEXT NOT NULL,
			expected_letter TEXT NOT NULL,
			count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scores_key_recorded ON scores(session_key, recorded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_confusions_key ON confusions(session_key);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record implements score.Sink.
func (s *Store) Record(ctx context.Context, sc score.Score) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (session_key, mode, accuracy, recorded_at) VALUES (?, ?, ?, ?)`,
		sc.SessionKey, sc.Mode, sc.Accuracy, sc.RecordedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlite score store: record: %w", err)
	}
	return nil
}

// Recent implements score.Store.
func (s *Store) Recent(ctx context.Context, key string, limit int) ([]score.Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, mode, accuracy, recorded_at
		 FROM scores
		 WHERE ? = '' OR session_key = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		key, key, score.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite score store: recent: %w", err)
	}
	defer rows.Close()

	out := []score.Score{}
	for rows.Next() {
		var (
			sc score.Score
			at string
		)
		if err := rows.Scan(&sc.SessionKey, &sc.Mode, &sc.Accuracy, &at); err != nil {
			return nil, fmt.Errorf("sqlite score store: scan score: %w", err)
		}
		sc.RecordedAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("sqlite score store: parse recorded_at: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite score store: recent: %w", err)
	}
	return out, nil
}

// RecordExam implements score.Store.
func (s *Store) RecordExam(ctx context.Context, rec score.ExamRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite score store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO exams (session_key, accuracy, total_expected, total_correct, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.SessionKey, rec.Accuracy, rec.TotalExpected, rec.TotalCorrect,
		rec.RecordedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlite score store: insert exam: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite score store: exam id: %w", err)
	}

	for _, a := range rec.Alerts {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO confusions (exam_id, session_key, spoken_letter, expected_letter, count)
			 VALUES (?, ?, ?, ?, ?)`,
			id, rec.SessionKey, a.SpokenLetter, a.ExpectedLetter, a.Count); err != nil {
			return fmt.Errorf("sqlite score store: insert confusion: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite score store: commit: %w", err)
	}
	return nil
}

// Confusions implements score.Store.
func (s *Store) Confusions(ctx context.Context, key string, limit int) ([]score.ConfusionTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT spoken_letter, expected_letter, SUM(count) AS total
		 FROM confusions
		 WHERE ? = '' OR session_key = ?
		 GROUP BY spoken_letter, expected_letter
		 ORDER BY total DESC, spoken_letter, expected_letter
		 LIMIT ?`,
		key, key, score.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite score store: confusions: %w", err)
	}
	defer rows.Close()

	out := []score.ConfusionTotal{}
	for rows.Next() {
		var c score.ConfusionTotal
		if err := rows.Scan(&c.Spoken, &c.Expected, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite score store: scan confusion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite score store: confusions: %w", err)
	}
	return out, nil
}

// Ping implements score.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
