package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/pkg/score"
	"github.com/MrWong99/tilawa/pkg/score/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "nested", "scores.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, acc := range []int{70, 85, 100} {
		if err := store.Record(ctx, score.Score{
			SessionKey: "112:1-4",
			Mode:       "solo",
			Accuracy:   acc,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Record(ctx, score.Score{SessionKey: "1:1-7", Mode: "link", Accuracy: 50, RecordedAt: base.Add(-time.Minute)}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	tests := []struct {
		key   string
		limit int
		want  []int
	}{
		{key: "112:1-4", limit: 2, want: []int{100, 85}},
		{key: "112:1-4", limit: 0, want: []int{100, 85, 70}},
		{key: "1:1-7", limit: 5, want: []int{50}},
		{key: "", limit: 0, want: []int{100, 85, 70, 50}},
		{key: "unknown", limit: 5, want: nil},
	}
	for _, tc := range tests {
		got, err := store.Recent(ctx, tc.key, tc.limit)
		if err != nil {
			t.Fatalf("Recent(%q, %d): %v", tc.key, tc.limit, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("Recent(%q, %d) returned %d scores, want %d", tc.key, tc.limit, len(got), len(tc.want))
		}
		for i, w := range tc.want {
			if got[i].Accuracy != w {
				t.Errorf("Recent(%q, %d)[%d].Accuracy = %d, want %d", tc.key, tc.limit, i, got[i].Accuracy, w)
			}
		}
	}

	got, _ := store.Recent(ctx, "112:1-4", 1)
	if !got[0].RecordedAt.Equal(base.Add(2*time.Minute)) || got[0].Mode != "solo" {
		t.Errorf("Recent round trip = %+v", got[0])
	}
}

func TestRecent_SameTimestampNewestInsertFirst(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, acc := range []int{40, 60, 80} {
		if err := store.Record(ctx, score.Score{SessionKey: "103:1-3", Mode: "solo", Accuracy: acc, RecordedAt: at}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := store.Recent(ctx, "103:1-3", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 || got[0].Accuracy != 80 || got[1].Accuracy != 60 || got[2].Accuracy != 40 {
		t.Errorf("Recent = %+v, want accuracies [80 60 40]", got)
	}
}

func TestRecordExamAndConfusions(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	recs := []score.ExamRecord{
		score.NewExamRecord("112:1-4", recite.ExamResult{
			Accuracy: 75, TotalExpected: 4, TotalCorrect: 3,
			Alerts: []recite.MakharijAlert{
				{SpokenLetter: "ك", ExpectedLetter: "ق", Count: 2},
				{SpokenLetter: "ه", ExpectedLetter: "ح", Count: 1},
			},
		}, time.Now()),
		score.NewExamRecord("112:1-4", recite.ExamResult{
			Accuracy: 90, TotalExpected: 4, TotalCorrect: 4,
			Alerts: []recite.MakharijAlert{{SpokenLetter: "ك", ExpectedLetter: "ق", Count: 1}},
		}, time.Now()),
		score.NewExamRecord("1:1-7", recite.ExamResult{
			Accuracy: 50, TotalExpected: 2, TotalCorrect: 1,
			Alerts: []recite.MakharijAlert{{SpokenLetter: "س", ExpectedLetter: "ص", Count: 4}},
		}, time.Now()),
	}
	for _, r := range recs {
		if err := store.RecordExam(ctx, r); err != nil {
			t.Fatalf("RecordExam: %v", err)
		}
	}

	tests := []struct {
		key   string
		limit int
		want  []score.ConfusionTotal
	}{
		{key: "112:1-4", limit: 10, want: []score.ConfusionTotal{
			{Spoken: "ك", Expected: "ق", Count: 3},
			{Spoken: "ه", Expected: "ح", Count: 1},
		}},
		{key: "", limit: 1, want: []score.ConfusionTotal{
			{Spoken: "س", Expected: "ص", Count: 4},
		}},
		{key: "2:1-5", limit: 10, want: nil},
	}
	for _, tc := range tests {
		got, err := store.Confusions(ctx, tc.key, tc.limit)
		if err != nil {
			t.Fatalf("Confusions(%q): %v", tc.key, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("Confusions(%q) = %+v, want %+v", tc.key, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("Confusions(%q)[%d] = %+v, want %+v", tc.key, i, got[i], tc.want[i])
			}
		}
	}
}

func TestOpen_Memory(t *testing.T) {
	t.Parallel()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
