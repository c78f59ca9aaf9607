package audio

import "time"

// AudioFrame is a chunk of PCM audio tagged with its format. Frames are the
// unit handled by [FormatConverter].
type AudioFrame struct {
	// Data is 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 is what recognizers expect).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Encoding identifies the container of a finalised [Clip].
type Encoding string

const (
	// EncodingPCM16 is headerless 16-bit signed little-endian PCM.
	EncodingPCM16 Encoding = "pcm_s16le"
	// EncodingWAV is a RIFF/WAV container around PCM16 data.
	EncodingWAV Encoding = "wav"
)

// Clip is a finalised recording: one contiguous audio buffer plus the format
// and encoding needed to interpret it.
type Clip struct {
	Data     []byte
	Format   Format
	Encoding Encoding
}

// Duration returns the playback length of a PCM16 clip. WAV clips subtract
// the 44-byte header.
func (c Clip) Duration() time.Duration {
	n := len(c.Data)
	if c.Encoding == EncodingWAV {
		n -= wavHeaderSize
	}
	return PCMDuration(n, c.Format)
}

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool {
	return c.Duration() <= 0
}

// PCMDuration returns the duration of n bytes of PCM16 audio in format f.
func PCMDuration(n int, f Format) time.Duration {
	bps := f.SampleRate * f.Channels * bytesPerSample
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
