package coach

import (
	"fmt"

	"github.com/MrWong99/tilawa/internal/recite"
)

// Mode is a coaching drill.
type Mode string

const (
	// ModeOff disables coaching and clears all state.
	ModeOff Mode = "off"

	// ModeSolo listens to the student from the start hint onward.
	ModeSolo Mode = "solo"

	// ModeDuoEcho alternates a reciter turn with a student echo.
	ModeDuoEcho Mode = "duo_echo"

	// ModeLink chains ayahs: the reciter plays one, the student continues.
	ModeLink Mode = "link"

	// ModeFlashStart shows the opening of a passage; the student recites the
	// rest after the trigger.
	ModeFlashStart Mode = "flash_start"

	// ModeMagicReveal hides the text and reveals words as they are judged.
	ModeMagicReveal Mode = "magic_reveal"
)

var modes = []Mode{ModeOff, ModeSolo, ModeDuoEcho, ModeLink, ModeFlashStart, ModeMagicReveal}

// ParseMode returns the Mode named s.
func ParseMode(s string) (Mode, error) {
	for _, m := range modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("coach: unknown mode %q", s)
}

// Duo reports whether m alternates reciter and student phases.
func (m Mode) Duo() bool {
	return m == ModeDuoEcho || m == ModeLink || m == ModeFlashStart
}

// listensImmediately reports whether selecting m starts listening at once.
func (m Mode) listensImmediately() bool {
	return m == ModeSolo || m == ModeMagicReveal
}

// Phase is the turn within a duo mode.
type Phase string

const (
	PhaseNone    Phase = ""
	PhaseReciter Phase = "reciter"
	PhaseStudent Phase = "student"
)

// Passage is the text being recited.
type Passage struct {
	// Key identifies the passage for score history, e.g. "112:1-4".
	Key string

	Words []recite.ExpectedWord

	// StartHint is the position listening starts from in solo and
	// magic_reveal, typically the current playback position.
	StartHint int
}

// NewPassage builds a passage from ayah texts.
func NewPassage(key string, ayahs []string, startHint int) Passage {
	return Passage{Key: key, Words: recite.BuildExpected(ayahs), StartHint: startHint}
}
