package exam

import (
	"testing"

	"github.com/MrWong99/tilawa/pkg/audio"
	audiomock "github.com/MrWong99/tilawa/pkg/audio/mock"
	trmock "github.com/MrWong99/tilawa/pkg/provider/transcribe/mock"
)

func TestNotify_DropsStaleSnapshots(t *testing.T) {
	t.Parallel()

	var got []State
	s := New(audio.NewExclusive(&audiomock.Device{}), &trmock.Transcriber{},
		WithOnChange(func(snap Snapshot) { got = append(got, snap.State) }))

	// A tick takes its snapshot while recording, then Stop takes one while
	// analyzing and delivers it first.
	s.mu.Lock()
	s.state = StateRecording
	tick := s.noticeLocked()
	s.state = StateAnalyzing
	stop := s.noticeLocked()
	s.mu.Unlock()

	s.notify(stop)
	s.notify(tick)

	if len(got) != 1 || got[0] != StateAnalyzing {
		t.Errorf("delivered %v, want only analyzing", got)
	}
}
