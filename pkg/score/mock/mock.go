// Package mock provides an in-memory score.Store for tests.
package mock

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tilawa/pkg/score"
)

// Store is an in-memory score.Store. The zero value is ready to use.
type Store struct {
	mu sync.Mutex

	// RecordErr, if non-nil, is returned by Record and RecordExam.
	RecordErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	Scores []score.Score
	Exams  []score.ExamRecord

	recorded chan struct{}
	closed   bool
}

var _ score.Store = (*Store)(nil)

// Record appends s unless RecordErr is set.
func (m *Store) Record(_ context.Context, s score.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.notify()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.Scores = append(m.Scores, s)
	return nil
}

// RecordExam appends rec unless RecordErr is set.
func (m *Store) RecordExam(_ context.Context, rec score.ExamRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.notify()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.Exams = append(m.Exams, rec)
	return nil
}

// Recorded returns a channel that receives after every Record or RecordExam
// call, successful or not. Use it to wait for fire-and-forget writes.
func (m *Store) Recorded() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorded == nil {
		m.recorded = make(chan struct{}, 64)
	}
	return m.recorded
}

func (m *Store) notify() {
	if m.recorded == nil {
		m.recorded = make(chan struct{}, 64)
	}
	select {
	case m.recorded <- struct{}{}:
	default:
	}
}

// ScoreCount returns how many scores were recorded.
func (m *Store) ScoreCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Scores)
}

// ExamCount returns how many exams were recorded.
func (m *Store) ExamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Exams)
}

// Recent returns matching scores, newest first.
func (m *Store) Recent(_ context.Context, key string, limit int) ([]score.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []score.Score{}
	for i := len(m.Scores) - 1; i >= 0; i-- {
		if key == "" || m.Scores[i].SessionKey == key {
			out = append(out, m.Scores[i])
		}
	}
	slices.SortStableFunc(out, func(a, b score.Score) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	return out[:min(len(out), score.Limit(limit))], nil
}

// Confusions aggregates alerts from recorded exams.
func (m *Store) Confusions(_ context.Context, key string, limit int) ([]score.ConfusionTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type pair struct{ spoken, expected string }
	totals := map[pair]int{}
	for _, e := range m.Exams {
		if key != "" && e.SessionKey != key {
			continue
		}
		for _, a := range e.Alerts {
			totals[pair{a.SpokenLetter, a.ExpectedLetter}] += a.Count
		}
	}
	out := make([]score.ConfusionTotal, 0, len(totals))
	for p, n := range totals {
		out = append(out, score.ConfusionTotal{Spoken: p.spoken, Expected: p.expected, Count: n})
	}
	slices.SortFunc(out, func(a, b score.ConfusionTotal) int {
		return cmp.Or(
			cmp.Compare(b.Count, a.Count),
			cmp.Compare(a.Spoken, b.Spoken),
			cmp.Compare(a.Expected, b.Expected),
		)
	})
	return out[:min(len(out), score.Limit(limit))], nil
}

// Ping returns PingErr.
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// Close marks the store closed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Store) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
