package textnorm_test

import (
	"testing"

	"github.com/MrWong99/tilawa/internal/recite/textnorm"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: " \t\n ", want: ""},
		{name: "plain word unchanged", in: "الحمد", want: "الحمد"},
		{name: "harakat stripped", in: "بِسْمِ", want: "بسم"},
		{name: "shadda and tanween stripped", in: "رَبِّ كِتَابٌ", want: "رب كتاب"},
		{name: "hamza above alef", in: "أحد", want: "احد"},
		{name: "hamza below alef", in: "إياك", want: "اياك"},
		{name: "madda alef", in: "آمن", want: "امن"},
		{name: "alef wasla", in: "ٱلْحَمْدُ", want: "الحمد"},
		{name: "alef maqsura", in: "هدى", want: "هدي"},
		{name: "ta marbuta", in: "الصلاة", want: "الصلاه"},
		{name: "hamza on waw", in: "مؤمن", want: "مومن"},
		{name: "hamza on ya", in: "بئر", want: "بير"},
		{name: "tatweel removed", in: "الـــله", want: "الله"},
		{name: "superscript alef removed", in: "ٱلرَّحْمَٰنِ", want: "الرحمن"},
		{name: "ligature decomposed", in: "ﷲ", want: "الله"},
		{name: "presentation forms", in: "ﺳﻠﻢ", want: "سلم"},
		{name: "punctuation is a separator", in: "قال،ربي؟", want: "قال ربي"},
		{name: "verse number ornament", in: "الرحيم ﴿١﴾", want: "الرحيم"},
		{name: "collapse inner whitespace", in: "  قل   هو  ", want: "قل هو"},
		{name: "format characters removed", in: "ق\u200cل", want: "قل"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := textnorm.Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"بِسْمِ ٱللَّهِ ٱلرَّحْمَٰنِ ٱلرَّحِيمِ",
		"ذَٰلِكَ ٱلْكِتَٰبُ لَا رَيْبَ ۛ فِيهِ ۛ هُدًى لِّلْمُتَّقِينَ",
		"﷽",
		"مَـٰلِكِ يَوْمِ ٱلدِّينِ ﴿٤﴾",
		"Hello, World!",
		"\xff\xfe broken",
	}
	for _, in := range inputs {
		once := textnorm.Normalize(in)
		twice := textnorm.Normalize(once)
		if once != twice {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	if !textnorm.Equal("إِيَّاكَ", "اياك") {
		t.Error(`Equal("إِيَّاكَ", "اياك") = false, want true`)
	}
	if textnorm.Equal("ذلك", "زلك") {
		t.Error(`Equal("ذلك", "زلك") = true, want false`)
	}
}
