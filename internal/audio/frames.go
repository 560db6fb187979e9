package audio

import "errors"

// Canonical stream format for the whole service.
const (
	SampleRate = 16000
	FrameSize  = 512 // samples per VAD frame (~32 ms at 16 kHz)
)

// ErrOddByteCount is reported when the transport delivers a trailing odd
// byte at stream close. The final byte is dropped.
var ErrOddByteCount = errors.New("trailing odd byte in audio stream")

// FrameAssembler turns arbitrary-sized chunks of little-endian 16-bit PCM
// into fixed-size frames of normalized float32 samples in [-1, 1].
//
// Chunks need not contain whole samples or whole frames; the assembler
// carries the remainder between calls. Sample order is arrival order and
// frames never overlap.
type FrameAssembler struct {
	frameSize int
	carryByte byte
	hasCarry  bool
	pending   []float32
}

// NewFrameAssembler returns an assembler producing frames of frameSize
// samples. frameSize ≤ 0 selects the canonical FrameSize.
func NewFrameAssembler(frameSize int) *FrameAssembler {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &FrameAssembler{
		frameSize: frameSize,
		pending:   make([]float32, 0, frameSize),
	}
}

// Push consumes one transport chunk and returns the complete frames it
// yields, in arrival order. The returned slices are freshly allocated and
// owned by the caller.
func (a *FrameAssembler) Push(chunk []byte) [][]float32 {
	if len(chunk) == 0 {
		return nil
	}
	if a.hasCarry {
		pair := [2]byte{a.carryByte, chunk[0]}
		a.hasCarry = false
		a.pending = append(a.pending, DecodeSample(pair[0], pair[1]))
		chunk = chunk[1:]
	}
	for len(chunk) >= 2 {
		a.pending = append(a.pending, DecodeSample(chunk[0], chunk[1]))
		chunk = chunk[2:]
	}
	if len(chunk) == 1 {
		a.carryByte = chunk[0]
		a.hasCarry = true
	}

	var frames [][]float32
	for len(a.pending) >= a.frameSize {
		frame := make([]float32, a.frameSize)
		copy(frame, a.pending[:a.frameSize])
		frames = append(frames, frame)
		a.pending = a.pending[:copy(a.pending, a.pending[a.frameSize:])]
	}
	return frames
}

// Flush reports stream-close conditions. A dangling half sample yields
// ErrOddByteCount; buffered whole samples short of a frame are discarded
// (they were never emitted as a frame, so they never reach the session ring).
func (a *FrameAssembler) Flush() error {
	var err error
	if a.hasCarry {
		err = ErrOddByteCount
	}
	a.hasCarry = false
	a.pending = a.pending[:0]
	return err
}

// PendingSamples returns the count of buffered whole samples not yet
// emitted as a frame.
func (a *FrameAssembler) PendingSamples() int { return len(a.pending) }

// DecodeSample converts one little-endian int16 sample to a normalized
// float32, clamped to [-1, 1].
func DecodeSample(lo, hi byte) float32 {
	v := int16(uint16(lo) | uint16(hi)<<8)
	f := float32(v) / 32768.0
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return f
}

// DecodePCM16 converts a whole buffer of little-endian int16 samples. The
// byte count must be even.
func DecodePCM16(b []byte) []float32 {
	out := make([]float32, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, DecodeSample(b[i], b[i+1]))
	}
	return out
}

// IsSilence reports whether every sample in the chunk decodes to zero.
// Used by the end-mark detector on raw wire chunks.
func IsSilence(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
