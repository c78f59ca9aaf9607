package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/audio/mock"
)

func TestExclusive_FailsFastWhenHeld(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	ex := audio.NewExclusive(dev)

	lease, err := ex.Acquire(context.Background(), "coach")
	if err != nil {
		t.Fatalf("Acquire(coach): %v", err)
	}
	if got := ex.Holder(); got != "coach" {
		t.Errorf("Holder() = %q, want %q", got, "coach")
	}

	_, err = ex.Acquire(context.Background(), "exam")
	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("second Acquire error = %v, want ErrDeviceBusy", err)
	}

	if err := lease.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if dev.IsOpen() {
		t.Error("device still open after Release")
	}

	lease, err = ex.Acquire(context.Background(), "exam")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = lease.Release()
	_ = lease.Release()
	if dev.CallCountClose != 2 {
		t.Errorf("CallCountClose = %d, want 2", dev.CallCountClose)
	}
}

func TestExclusive_OpenFailureLeavesDeviceFree(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{OpenError: errors.New("no microphone")}
	ex := audio.NewExclusive(dev)

	if _, err := ex.Acquire(context.Background(), "exam"); err == nil {
		t.Fatal("Acquire with failing device: want error")
	}
	if got := ex.Holder(); got != "" {
		t.Errorf("Holder() after failed acquire = %q, want empty", got)
	}
}

func TestRecorder_StopReturnsClip(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	lease, err := audio.NewExclusive(dev).Acquire(context.Background(), "exam")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rec := audio.NewRecorder(lease)

	for _, c := range [][]byte{{1, 2}, {3, 4}, {5, 6}} {
		if err := dev.Emit(c); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	clip := rec.Stop()
	if !bytes.Equal(clip.Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("clip.Data = %v, want all emitted bytes", clip.Data)
	}
	if clip.Encoding != audio.EncodingPCM16 {
		t.Errorf("clip.Encoding = %q, want %q", clip.Encoding, audio.EncodingPCM16)
	}
	if dev.IsOpen() {
		t.Error("device still open after Stop")
	}
	if again := rec.Stop(); !bytes.Equal(again.Data, clip.Data) {
		t.Error("second Stop returned a different clip")
	}
}

func TestRecorder_ReleaseDiscards(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	ex := audio.NewExclusive(dev)
	lease, _ := ex.Acquire(context.Background(), "exam")
	rec := audio.NewRecorder(lease)
	_ = dev.Emit([]byte{1, 2})

	rec.Release()
	if clip := rec.Stop(); len(clip.Data) != 0 {
		t.Errorf("Stop after Release returned %d bytes, want 0", len(clip.Data))
	}
	if ex.Holder() != "" {
		t.Error("device still held after Release")
	}
}

func TestRecorder_MaxDuration(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{DeviceFormat: audio.Format{SampleRate: 2, Channels: 1}}
	lease, _ := audio.NewExclusive(dev).Acquire(context.Background(), "exam")
	// 2 Hz mono PCM16 is 4 bytes per second.
	rec := audio.NewRecorder(lease, audio.WithMaxDuration(time.Second))
	_ = dev.Emit([]byte{1, 2, 3, 4})
	_ = dev.Emit([]byte{5, 6})

	if clip := rec.Stop(); len(clip.Data) != 4 {
		t.Errorf("clip has %d bytes, want 4", len(clip.Data))
	}
}

func TestRecorder_Ticks(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	lease, _ := audio.NewExclusive(dev).Acquire(context.Background(), "exam")
	ticks := make(chan int, 4)
	rec := audio.NewRecorder(lease, audio.WithTick(func(s int) { ticks <- s }))
	defer rec.Release()

	select {
	case s := <-ticks:
		if s != 1 {
			t.Errorf("first tick = %d, want 1", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick within 3s")
	}
	if rec.Seconds() < 1 {
		t.Errorf("Seconds() = %d, want >= 1", rec.Seconds())
	}
}

func TestPipe(t *testing.T) {
	t.Parallel()

	p := audio.NewPipe(audio.Format{SampleRate: 16000, Channels: 1})
	p.Push([]byte{1, 2}) // no stream open: discarded

	s, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := p.Open(context.Background()); err == nil {
		t.Error("second Open: want error")
	}

	p.Push([]byte{3, 4})
	if err := p.SetSource(audio.Format{SampleRate: 16000, Channels: 2}); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	p.Push(samplesToBytes([]int16{100, 300}))

	got := <-s.Chunks()
	if !bytes.Equal(got, []byte{3, 4}) {
		t.Errorf("first chunk = %v, want [3 4]", got)
	}
	got = <-s.Chunks()
	if v := bytesToSamples(got); len(v) != 1 || v[0] != 200 {
		t.Errorf("downmixed chunk = %v, want [200]", v)
	}

	_ = s.Close()
	if _, ok := <-s.Chunks(); ok {
		t.Error("Chunks not closed after Close")
	}
	if _, err := p.Open(context.Background()); err != nil {
		t.Errorf("Open after Close: %v", err)
	}
	if err := p.SetSource(audio.Format{}); err == nil {
		t.Error("SetSource(invalid): want error")
	}
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	pcm := samplesToBytes([]int16{1, 2, 3})
	clip := audio.Clip{Data: pcm, Format: f, Encoding: audio.EncodingPCM16}

	wav := clip.WAV()
	if wav.Encoding != audio.EncodingWAV || len(wav.Data) != 44+len(pcm) {
		t.Fatalf("WAV() = %d bytes %q, want %d bytes wav", len(wav.Data), wav.Encoding, 44+len(pcm))
	}
	if string(wav.Data[0:4]) != "RIFF" || string(wav.Data[8:12]) != "WAVE" {
		t.Errorf("header = %q, want RIFF/WAVE", wav.Data[:12])
	}
	if sr := binary.LittleEndian.Uint32(wav.Data[24:28]); sr != 16000 {
		t.Errorf("sample rate field = %d, want 16000", sr)
	}
	back, err := wav.PCM()
	if err != nil || !bytes.Equal(back, pcm) {
		t.Errorf("PCM() = %v, %v, want original samples", back, err)
	}
	if wav.Duration() != clip.Duration() {
		t.Errorf("Duration mismatch: wav %v, pcm %v", wav.Duration(), clip.Duration())
	}
	if _, err := (audio.Clip{Data: []byte("nope"), Encoding: audio.EncodingWAV}).PCM(); err == nil {
		t.Error("PCM() on malformed WAV: want error")
	}
}
