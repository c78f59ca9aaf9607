// Package score defines persistence for recitation results.
//
// A [Sink] receives one [Score] whenever a coaching pass completes. A [Store]
// additionally keeps exam records and the per-letter confusion history that
// drives the makharij weakness report. Two implementations exist: postgres
// (pgx pool) and sqlite (embedded, pure Go).
//
// Writes are issued fire-and-forget by the engine; implementations must be
// safe for concurrent use.
package score

import (
	"context"
	"time"

	"github.com/MrWong99/tilawa/internal/recite"
)

// DefaultLimit caps history queries that pass a non-positive limit.
const DefaultLimit = 50

// Score is one completed coaching pass.
type Score struct {
	// SessionKey identifies the passage or lesson, e.g. "112:1-4".
	SessionKey string `json:"session_key"`

	// Mode is the coaching mode the pass ran in.
	Mode string `json:"mode"`

	// Accuracy is the final percentage, 0..100.
	Accuracy int `json:"accuracy"`

	RecordedAt time.Time `json:"recorded_at"`
}

// ExamRecord summarises one analysed exam.
type ExamRecord struct {
	SessionKey    string                 `json:"session_key"`
	Accuracy      int                    `json:"accuracy"`
	TotalExpected int                    `json:"total_expected"`
	TotalCorrect  int                    `json:"total_correct"`
	Alerts        []recite.MakharijAlert `json:"alerts"`
	RecordedAt    time.Time              `json:"recorded_at"`
}

// NewExamRecord builds a record from an exam result.
func NewExamRecord(key string, r recite.ExamResult, at time.Time) ExamRecord {
	return ExamRecord{
		SessionKey:    key,
		Accuracy:      r.Accuracy,
		TotalExpected: r.TotalExpected,
		TotalCorrect:  r.TotalCorrect,
		Alerts:        r.Alerts,
		RecordedAt:    at,
	}
}

// ConfusionTotal is the accumulated count of one letter confusion across
// exams.
type ConfusionTotal struct {
	Spoken   string `json:"spoken"`
	Expected string `json:"expected"`
	Count    int    `json:"count"`
}

// Sink records completed coaching passes.
type Sink interface {
	Record(ctx context.Context, s Score) error
}

// Store is a Sink with history queries.
type Store interface {
	Sink

	// Recent returns the newest scores first. An empty key matches every
	// session.
	Recent(ctx context.Context, key string, limit int) ([]Score, error)

	// RecordExam stores an exam summary and adds its alerts to the confusion
	// totals.
	RecordExam(ctx context.Context, rec ExamRecord) error

	// Confusions returns confusion totals, highest count first. An empty key
	// aggregates over every session.
	Confusions(ctx context.Context, key string, limit int) ([]ConfusionTotal, error)

	// Ping checks connectivity for readiness probes.
	Ping(ctx context.Context) error

	Close() error
}

// Limit normalises a caller-supplied limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// Discard is a Sink that drops every score.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, Score) error { return nil }
