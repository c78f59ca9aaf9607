package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/tilawa/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "stereo", in: []int16{100, 300, -200, -400}, channels: 2, want: []int16{200, -300}},
		{name: "three channels", in: []int16{3000, 6000, 9000}, channels: 3, want: []int16{6000}},
		{name: "clamps", in: []int16{32767, 32767}, channels: 2, want: []int16{32767}},
		{name: "trailing partial frame dropped", in: []int16{10, 20, 30}, channels: 2, want: []int16{15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.Downmix(samplesToBytes(tc.in), tc.channels))
			if len(got) != len(tc.want) {
				t.Fatalf("Downmix: got %d samples, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500})

	if got := audio.ResampleMono16(in, 16000, 16000); len(got) != len(in) {
		t.Errorf("same rate: got %d bytes, want %d", len(got), len(in))
	}
	if got := audio.ResampleMono16(in, 0, 16000); len(got) != len(in) {
		t.Errorf("zero source rate: got %d bytes, want input unchanged", len(got))
	}

	down := bytesToSamples(audio.ResampleMono16(in, 48000, 16000))
	if len(down) != 2 {
		t.Fatalf("48k->16k: got %d samples, want 2", len(down))
	}
	if down[0] != 0 || down[1] != 300 {
		t.Errorf("48k->16k: got %v, want [0 300]", down)
	}

	up := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{0, 100}), 8000, 16000))
	if len(up) != 4 {
		t.Fatalf("8k->16k: got %d samples, want 4", len(up))
	}
	if up[1] != 50 {
		t.Errorf("8k->16k interpolated sample: got %d, want 50", up[1])
	}
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	target := audio.Format{SampleRate: 16000, Channels: 1}

	t.Run("matching format is unchanged", func(t *testing.T) {
		t.Parallel()
		c := &audio.FormatConverter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1}
		out := c.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("Convert copied a frame that already matched the target")
		}
	})

	t.Run("stereo 48k to mono 16k", func(t *testing.T) {
		t.Parallel()
		c := &audio.FormatConverter{Target: target}
		// 6 stereo frames at 48 kHz -> 2 mono samples at 16 kHz.
		in := samplesToBytes([]int16{0, 0, 10, 10, 20, 20, 30, 30, 40, 40, 50, 50})
		out := c.Convert(audio.AudioFrame{Data: in, SampleRate: 48000, Channels: 2})
		if out.SampleRate != 16000 || out.Channels != 1 {
			t.Fatalf("format = %dHz/%dch, want 16000Hz/1ch", out.SampleRate, out.Channels)
		}
		if got := bytesToSamples(out.Data); len(got) != 2 || got[1] != 30 {
			t.Errorf("samples = %v, want [0 30]", got)
		}
	})

	t.Run("misaligned data is dropped", func(t *testing.T) {
		t.Parallel()
		c := &audio.FormatConverter{Target: target}
		out := c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if len(out.Data) != 0 {
			t.Errorf("Convert returned %d bytes for odd input, want 0", len(out.Data))
		}
	})
}

func TestPCMToFloat32Mono(t *testing.T) {
	t.Parallel()

	mono := audio.PCMToFloat32Mono(samplesToBytes([]int16{1000, 3000, -2000, -4000}), 2)
	if len(mono) != 2 {
		t.Fatalf("got %d samples, want 2", len(mono))
	}
	want := []float32{2000.0 / 32768, -3000.0 / 32768}
	for i := range want {
		if math.Abs(float64(mono[i]-want[i])) > 1e-6 {
			t.Errorf("mono[%d] = %f, want %f", i, mono[i], want[i])
		}
	}

	if got := audio.PCMToFloat32Mono(samplesToBytes([]int16{-32768}), 0); len(got) != 1 || got[0] != -1 {
		t.Errorf("full scale negative = %v, want [-1]", got)
	}
	if got := audio.PCMToFloat32Mono([]byte{1}, 1); len(got) != 0 {
		t.Errorf("odd byte input = %v, want empty", got)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := audio.RMS(samplesToBytes([]int16{300, -300, 300, -300})); math.Abs(got-300) > 1e-9 {
		t.Errorf("RMS(±300) = %f, want 300", got)
	}
}

func TestPCMDuration(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := audio.PCMDuration(32000, f); got != time.Second {
		t.Errorf("PCMDuration(32000, 16k mono) = %v, want 1s", got)
	}
	if got := audio.PCMDuration(100, audio.Format{}); got != 0 {
		t.Errorf("PCMDuration with invalid format = %v, want 0", got)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	tests := map[audio.Format]string{
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("Format%+v.String() = %q, want %q", f, got, want)
		}
	}
}
