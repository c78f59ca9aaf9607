// Package postgres provides a PostgreSQL-backed score.Store.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Record(ctx, score.Score{SessionKey: "112:1-4", Accuracy: 96})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tilawa/pkg/score"
)

var _ score.Store = (*Store)(nil)

// Store persists scores, exams and confusion totals in PostgreSQL. All
// methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres score store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres score store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres score store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres score store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Record implements score.Sink.
func (s *Store) Record(ctx context.Context, sc score.Score) error {
	const q = `
		INSERT INTO scores (session_key, mode, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, sc.SessionKey, sc.Mode, sc.Accuracy, sc.RecordedAt); err != nil {
		return fmt.Errorf("postgres score store: record: %w", err)
	}
	return nil
}

// Recent implements score.Store.
func (s *Store) Recent(ctx context.Context, key string, limit int) ([]score.Score, error) {
	const q = `
		SELECT session_key, mode, accuracy, recorded_at
		FROM   scores
		WHERE  $1::text = '' OR session_key = $1
		ORDER  BY recorded_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, key, score.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres score store: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (score.Score, error) {
		var sc score.Score
		err := row.Scan(&sc.SessionKey, &sc.Mode, &sc.Accuracy, &sc.RecordedAt)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres score store: scan scores: %w", err)
	}
	if out == nil {
		out = []score.Score{}
	}
	return out, nil
}

// RecordExam implements score.Store. The exam row and its confusions are
// written in one transaction.
func (s *Store) RecordExam(ctx context.Context, rec score.ExamRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres score store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var examID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO exams (session_key, accuracy, total_expected, total_correct, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		rec.SessionKey, rec.Accuracy, rec.TotalExpected, rec.TotalCorrect, rec.RecordedAt,
	).Scan(&examID)
	if err != nil {
		return fmt.Errorf("postgres score store: insert exam: %w", err)
	}

	if len(rec.Alerts) > 0 {
		batch := &pgx.Batch{}
		for _, a := range rec.Alerts {
			batch.Queue(`
				INSERT INTO confusions (exam_id, session_key, spoken_letter, expected_letter, count)
				VALUES ($1, $2, $3, $4, $5)`,
				examID, rec.SessionKey, a.SpokenLetter, a.ExpectedLetter, a.Count)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres score store: insert confusions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres score store: commit: %w", err)
	}
	return nil
}

// Confusions implements score.Store.
func (s *Store) Confusions(ctx context.Context, key string, limit int) ([]score.ConfusionTotal, error) {
	const q = `
		SELECT spoken_letter, expected_letter, SUM(count)::int AS total
		FROM   confusions
		WHERE  $1::text = '' OR session_key = $1
		GROUP  BY spoken_letter, expected_letter
		ORDER  BY total DESC, spoken_letter, expected_letter
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, key, score.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres score store: confusions: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[score.ConfusionTotal])
	if err != nil {
		return nil, fmt.Errorf("postgres score store: scan confusions: %w", err)
	}
	if out == nil {
		out = []score.ConfusionTotal{}
	}
	return out, nil
}

// Ping implements score.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
