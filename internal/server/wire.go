package server

import (
	"github.com/MrWong99/tilawa/internal/coach"
	"github.com/MrWong99/tilawa/internal/exam"
	"github.com/MrWong99/tilawa/internal/recite"
)

// Client message types.
const (
	msgLoad      = "load"
	msgMode      = "mode"
	msgTrigger   = "trigger"
	msgJump      = "jump"
	msgRestart   = "restart"
	msgSnapshot  = "snapshot"
	msgFormat    = "format"
	msgExamStart = "exam.start"
	msgExamStop  = "exam.stop"
	msgExamClear = "exam.clear"
)

// Server-only event types. Coach events keep their [coach.EventKind] name.
const (
	evSession        = "session"
	evSnapshot       = "snapshot"
	evExamState      = "exam.state"
	evFallbackResult = "fallback.result"
	evError          = "error"
)

// clientMessage is a JSON text frame sent by the client.
type clientMessage struct {
	Type string `json:"type"`

	// load
	Key   string   `json:"key,omitempty"`
	Ayahs []string `json:"ayahs,omitempty"`
	Start int      `json:"start,omitempty"`

	// mode
	Mode string `json:"mode,omitempty"`

	// jump
	Position int `json:"position,omitempty"`

	// exam.stop; empty grades against the loaded passage.
	Expected string `json:"expected,omitempty"`

	// format
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

type wireWord struct {
	Text string `json:"text"`
	Ayah int    `json:"ayah"`
	Word int    `json:"word"`
}

// serverEvent is a JSON text frame sent to the client.
type serverEvent struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`

	Pos      *int      `json:"pos,omitempty"`
	Word     *wireWord `json:"word,omitempty"`
	Verdict  string    `json:"verdict,omitempty"`
	Spoken   string    `json:"spoken,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Text     string    `json:"text,omitempty"`

	Accuracy *int     `json:"accuracy,omitempty"`
	Progress *float64 `json:"progress,omitempty"`

	State  *coach.Snapshot    `json:"state,omitempty"`
	Exam   *exam.Snapshot     `json:"exam,omitempty"`
	Result *recite.ExamResult `json:"result,omitempty"`

	// Request names the client message an error answers.
	Request string `json:"request,omitempty"`
	Error   string `json:"error,omitempty"`
}

func errorEvent(request string, err error) serverEvent {
	return serverEvent{Type: evError, Request: request, Error: err.Error()}
}

// fromCoach translates a coach event. Fallback clips carry audio and are
// handled separately; ok is false for them.
func fromCoach(ev coach.Event) (serverEvent, bool) {
	out := serverEvent{Type: string(ev.Kind)}
	switch ev.Kind {
	case coach.EventState:
		out.State = ev.State
	case coach.EventVerdict, coach.EventCurrent, coach.EventCleared:
		out.Pos = &ev.Pos
		out.Word = &wireWord{Text: ev.Word.Text, Ayah: ev.Word.AyahIndex, Word: ev.Word.WordIndex}
		out.Verdict = ev.Verdict.String()
		out.Spoken = ev.Spoken
	case coach.EventInterim:
		out.Text = ev.Text
	case coach.EventMistake:
		out.Pos = &ev.Pos
		out.Word = &wireWord{Text: ev.Mistake.Expected, Ayah: ev.Key.Ayah, Word: ev.Key.Word}
		out.Expected = ev.Mistake.Expected
		out.Spoken = ev.Mistake.Spoken
	case coach.EventProgress, coach.EventCompleted:
		out.Accuracy = &ev.Accuracy
		out.Progress = &ev.Progress
	case coach.EventFallback:
		out.Pos = &ev.Pos
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	case coach.EventError:
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	case coach.EventFallbackClip:
		return serverEvent{}, false
	}
	return out, true
}
