package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned by Tail when fewer samples than
	// requested have ever been written.
	ErrInsufficientData = errors.New("insufficient data in ring")

	// ErrMarkExpired is returned by Since when the marked sample has been
	// overwritten by newer audio.
	ErrMarkExpired = errors.New("mark expired")
)

// Mark is an absolute sample index into the stream a Ring has consumed.
// Marks taken from the same ring are comparable; the head only advances.
type Mark uint64

// Ring is a fixed-capacity sample ring. Append overwrites the oldest
// samples on wrap and always succeeds. A Ring is owned by a single session
// and is not safe for concurrent use.
type Ring struct {
	buf  []float32
	head uint64 // total samples ever written
}

// NewRing returns a ring holding up to capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic(fmt.Sprintf("audio: ring capacity must be positive, got %d", capacity))
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Cap returns the ring capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of samples currently readable (≤ Cap).
func (r *Ring) Len() int {
	if r.head < uint64(len(r.buf)) {
		return int(r.head)
	}
	return len(r.buf)
}

// Head returns the absolute index one past the newest sample.
func (r *Ring) Head() Mark { return Mark(r.head) }

// Append copies samples into the ring, overwriting the oldest on wrap.
func (r *Ring) Append(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}
	cap := len(r.buf)
	if n > cap {
		// Only the newest cap samples survive anyway; skip the rest so the
		// survivors land at their absolute positions.
		r.head += uint64(n - cap)
		samples = samples[n-cap:]
		n = cap
	}
	pos := int(r.head % uint64(cap))
	first := copy(r.buf[pos:], samples)
	if first < n {
		copy(r.buf, samples[first:])
	}
	r.head += uint64(n)
}

// Tail returns the most recent n samples as a fresh contiguous slice.
func (r *Ring) Tail(n int) ([]float32, error) {
	if n < 0 {
		return nil, fmt.Errorf("audio: negative tail length %d", n)
	}
	if uint64(n) > r.head || n > len(r.buf) {
		return nil, fmt.Errorf("audio: tail of %d samples: %w", n, ErrInsufficientData)
	}
	return r.copyRange(r.head-uint64(n), r.head), nil
}

// Since returns all samples from mark to the current head. It fails with
// ErrMarkExpired when the marked sample has already been overwritten.
func (r *Ring) Since(m Mark) ([]float32, error) {
	start := uint64(m)
	if start > r.head {
		return nil, fmt.Errorf("audio: mark %d ahead of head %d: %w", start, r.head, ErrMarkExpired)
	}
	oldest := uint64(0)
	if r.head > uint64(len(r.buf)) {
		oldest = r.head - uint64(len(r.buf))
	}
	if start < oldest {
		return nil, fmt.Errorf("audio: mark %d overwritten (oldest %d): %w", start, oldest, ErrMarkExpired)
	}
	return r.copyRange(start, r.head), nil
}

// MarkBack returns a mark n samples behind the head, clamped to the oldest
// retained sample so the result is always resolvable by Since.
func (r *Ring) MarkBack(n int) Mark {
	back := uint64(n)
	if back > r.head {
		back = r.head
	}
	start := r.head - back
	oldest := uint64(0)
	if r.head > uint64(len(r.buf)) {
		oldest = r.head - uint64(len(r.buf))
	}
	if start < oldest {
		start = oldest
	}
	return Mark(start)
}

func (r *Ring) copyRange(start, end uint64) []float32 {
	n := int(end - start)
	out := make([]float32, n)
	cap := uint64(len(r.buf))
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+uint64(i))%cap]
	}
	return out
}
