package batch_test

import (
	"testing"

	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/recite/batch"
	"github.com/MrWong99/tilawa/internal/recite/makharij"
)

func states(diffs []recite.WordDiff) []recite.WordState {
	out := make([]recite.WordState, len(diffs))
	for i, d := range diffs {
		out[i] = d.State
	}
	return out
}

func equalStates(a, b []recite.WordState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAnalyze_NearMissCountsAsWrong(t *testing.T) {
	t.Parallel()

	const (
		expected = "الحمد لله رب العالمين"
		spoken   = "الحمد لله رب العلمين"
	)
	res := batch.Analyze(expected, spoken)

	want := []recite.WordState{recite.StateCorrect, recite.StateCorrect, recite.StateCorrect, recite.StateWrong}
	if got := states(res.Words); !equalStates(got, want) {
		t.Fatalf("Analyze states = %v, want %v", got, want)
	}
	if res.Accuracy != 75 {
		t.Errorf("Accuracy = %d, want 75", res.Accuracy)
	}
	if res.TotalExpected != 4 || res.TotalCorrect != 3 {
		t.Errorf("totals = (%d, %d), want (4, 3)", res.TotalExpected, res.TotalCorrect)
	}
	if res.RawTranscription != spoken {
		t.Errorf("RawTranscription = %q, want %q", res.RawTranscription, spoken)
	}
	if sp := res.Words[3].Spoken; sp == nil || *sp != "العلمين" {
		t.Errorf("Words[3].Spoken = %v, want %q", sp, "العلمين")
	}
}

func TestAlign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
		spoken   string
		want     []recite.WordState
	}{
		{
			name:     "exact with diacritics",
			expected: "بِسْمِ ٱللَّهِ ٱلرَّحْمَٰنِ ٱلرَّحِيمِ",
			spoken:   "بسم الله الرحمن الرحيم",
			want:     []recite.WordState{recite.StateCorrect, recite.StateCorrect, recite.StateCorrect, recite.StateCorrect},
		},
		{
			name:     "empty transcription",
			expected: "قل هو الله احد",
			spoken:   "",
			want:     []recite.WordState{recite.StateMissing, recite.StateMissing, recite.StateMissing, recite.StateMissing},
		},
		{
			name:     "skipped word is missing and does not consume",
			expected: "قل هو الله احد",
			spoken:   "قل الله احد",
			want:     []recite.WordState{recite.StateCorrect, recite.StateMissing, recite.StateCorrect, recite.StateCorrect},
		},
		{
			name:     "extra spoken words are skipped over",
			expected: "الله الصمد",
			spoken:   "الله امين يا الصمد",
			want:     []recite.WordState{recite.StateCorrect, recite.StateCorrect},
		},
		{
			name:     "match beyond window is missing",
			expected: "الله الصمد",
			spoken:   "الله و و و و الصمد",
			want:     []recite.WordState{recite.StateCorrect, recite.StateMissing},
		},
		{
			name:     "nothing expected",
			expected: "",
			spoken:   "الحمد لله",
			want:     []recite.WordState{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := states(batch.Align(tc.expected, tc.spoken))
			if !equalStates(got, tc.want) {
				t.Errorf("Align(%q, %q) = %v, want %v", tc.expected, tc.spoken, got, tc.want)
			}
		})
	}
}

func TestAlign_TiePrefersEarliest(t *testing.T) {
	t.Parallel()

	diffs := batch.Align("رب", "رب رب")
	if len(diffs) != 1 || diffs[0].State != recite.StateCorrect {
		t.Fatalf("Align = %+v, want one correct word", diffs)
	}
	// The second expected word must still find the second spoken copy,
	// which proves the first copy was consumed.
	diffs = batch.Align("رب رب", "رب رب")
	if got := states(diffs); !equalStates(got, []recite.WordState{recite.StateCorrect, recite.StateCorrect}) {
		t.Errorf("Align duplicate words = %v, want both correct", got)
	}
}

func TestAnalyze_Accounting(t *testing.T) {
	t.Parallel()

	cases := [][2]string{
		{"الحمد لله رب العالمين", "الحمد لله رب العلمين"},
		{"ذلك الكتاب لا ريب فيه", "زلك الكتاب ريب فيه هدي"},
		{"قل اعوذ برب الفلق", "كل اعوذ"},
		{"", ""},
	}
	for _, c := range cases {
		res := batch.Analyze(c[0], c[1])
		sum := res.TotalCorrect + res.Count(recite.StateWrong) + res.Count(recite.StateMissing)
		if sum != res.TotalExpected {
			t.Errorf("Analyze(%q, %q): correct+wrong+missing = %d, want %d", c[0], c[1], sum, res.TotalExpected)
		}
		for _, a := range res.Alerts {
			if !makharij.Confusable([]rune(a.SpokenLetter)[0], []rune(a.ExpectedLetter)[0]) {
				t.Errorf("Analyze(%q, %q): alert %+v not in confusion table", c[0], c[1], a)
			}
		}
	}
}

func TestAnalyze_ReportsConfusions(t *testing.T) {
	t.Parallel()

	res := batch.Analyze("ذلك الكتاب", "زلك الكتاب")
	if len(res.Alerts) != 1 {
		t.Fatalf("Alerts = %+v, want one alert", res.Alerts)
	}
	if a := res.Alerts[0]; a.ExpectedLetter != "ذ" || a.SpokenLetter != "ز" || a.Count != 1 {
		t.Errorf("alert = %+v, want ذ/ز count 1", a)
	}
	if res.Accuracy != 50 {
		t.Errorf("Accuracy = %d, want 50", res.Accuracy)
	}
}

func TestAccuracy(t *testing.T) {
	t.Parallel()

	tests := []struct{ correct, total, want int }{
		{0, 0, 0},
		{3, 4, 75},
		{2, 3, 67},
		{1, 3, 33},
		{5, 5, 100},
	}
	for _, tc := range tests {
		if got := batch.Accuracy(tc.correct, tc.total); got != tc.want {
			t.Errorf("Accuracy(%d, %d) = %d, want %d", tc.correct, tc.total, got, tc.want)
		}
	}
}

func TestWithWindow(t *testing.T) {
	t.Parallel()

	a := batch.New(batch.WithWindow(1))
	got := states(a.Align("الله الصمد", "الله امين الصمد"))
	want := []recite.WordState{recite.StateCorrect, recite.StateMissing}
	if !equalStates(got, want) {
		t.Errorf("Align with window 1 = %v, want %v", got, want)
	}
}
