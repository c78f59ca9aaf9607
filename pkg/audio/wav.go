package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// EncodeWAV wraps PCM16 data in a canonical 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bytesPerSample
	blockAlign := f.Channels * bytesPerSample

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 8*bytesPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// WAV returns c re-encoded as a WAV clip. WAV clips are returned as is.
func (c Clip) WAV() Clip {
	if c.Encoding == EncodingWAV {
		return c
	}
	return Clip{Data: EncodeWAV(c.Data, c.Format), Format: c.Format, Encoding: EncodingWAV}
}

// PCM returns the raw samples of c, stripping the WAV header if present.
func (c Clip) PCM() ([]byte, error) {
	if c.Encoding != EncodingWAV {
		return c.Data, nil
	}
	if len(c.Data) < wavHeaderSize || string(c.Data[0:4]) != "RIFF" || string(c.Data[8:12]) != "WAVE" {
		return nil, errors.New("audio: malformed WAV header")
	}
	return c.Data[wavHeaderSize:], nil
}
