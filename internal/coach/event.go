package coach

import (
	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/pkg/audio"
)

// EventKind identifies an [Event].
type EventKind string

const (
	EventState        EventKind = "state"
	EventVerdict      EventKind = "verdict"
	EventCurrent      EventKind = "current"
	EventCleared      EventKind = "cleared"
	EventInterim      EventKind = "interim"
	EventMistake      EventKind = "mistake"
	EventProgress     EventKind = "progress"
	EventCompleted    EventKind = "completed"
	EventFallback     EventKind = "fallback"
	EventFallbackClip EventKind = "fallback.clip"
	EventError        EventKind = "error"
)

// Event is one observable change of a coach session. Which fields are set
// depends on Kind:
//
//   - state: State
//   - verdict, current, cleared: Pos, Word, Verdict, Spoken
//   - interim: Text
//   - mistake: Pos, Key, Mistake
//   - progress, completed: Accuracy, Progress
//   - fallback: Pos (cursor when capture began), Err
//   - fallback.clip: Pos, Clip, Expected (passage words from Pos on)
//   - error: Err
type Event struct {
	Kind     EventKind
	Pos      int
	Word     recite.ExpectedWord
	Verdict  recite.Verdict
	Spoken   string
	Text     string
	Key      recite.Key
	Mistake  recite.Mistake
	Accuracy int
	Progress float64
	State    *Snapshot
	Clip     audio.Clip
	Expected []recite.ExpectedWord
	Err      error
}

// PositionedMistake is a mistake with its location in the passage.
type PositionedMistake struct {
	Ayah     int    `json:"ayah"`
	Word     int    `json:"word"`
	Expected string `json:"expected"`
	Spoken   string `json:"spoken"`
}

// Snapshot is a point-in-time copy of a coach session.
type Snapshot struct {
	PassageKey string                 `json:"passage_key"`
	Mode       Mode                   `json:"mode"`
	Phase      Phase                  `json:"phase,omitempty"`
	Listening  bool                   `json:"listening"`
	Fallback   bool                   `json:"fallback"`
	Cursor     int                    `json:"cursor"`
	Total      int                    `json:"total"`
	Processed  int                    `json:"processed"`
	Verdicts   map[int]recite.Verdict `json:"verdicts"`
	Mistakes   []PositionedMistake    `json:"mistakes"`
	Accuracy   int                    `json:"accuracy"`
	Progress   float64                `json:"progress"`
	Completed  bool                   `json:"completed"`
}
