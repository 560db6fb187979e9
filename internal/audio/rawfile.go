package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloat32 serializes samples as IEEE-754 float32 little-endian, the
// on-disk layout of the audit log's .raw files.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32 parses a .raw payload back into samples. The byte count
// must be a multiple of four.
func DecodeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("audio: raw float32 payload of %d bytes is not sample-aligned", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// Float32ToPCM16 converts normalized samples to 16-bit PCM bytes for WAV
// playback, clamping to [-1, 1] first.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
