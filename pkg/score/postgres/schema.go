package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlScores = `
CREATE TABLE IF NOT EXISTS scores (
    id           BIGSERIAL    PRIMARY KEY,
    session_key  TEXT         NOT NULL,
    mode         TEXT         NOT NULL DEFAULT '',
    accuracy     INTEGER      NOT NULL,
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scores_key_recorded
    ON scores (session_key, recorded_at DESC);
`

const ddlExams = `
CREATE TABLE IF NOT EXISTS exams (
    id              BIGSERIAL    PRIMARY KEY,
    session_key     TEXT         NOT NULL,
    accuracy        INTEGER      NOT NULL,
    total_expected  INTEGER      NOT NULL,
    total_correct   INTEGER      NOT NULL,
    recorded_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS confusions (
    exam_id          BIGINT  NOT NULL REFERENCES exams (id) ON DELETE CASCADE,
    session_key      TEXT    NOT NULL,
    spoken_letter    TEXT    NOT NULL,
    expected_letter  TEXT    NOT NULL,
    count            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_confusions_key
    ON confusions (session_key);
`

// Migrate creates the score tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"scores", ddlScores},
		{"exams", ddlExams},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
