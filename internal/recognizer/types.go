// Package recognizer runs speech-to-text over sealed utterances on a fixed
// pool of workers, each wrapping one model instance.
package recognizer

import "context"

// Error kinds reported on the wire inside a recognition result.
const (
	KindOverloaded   = "Overloaded"
	KindTimeout      = "Timeout"
	KindModelFailure = "ModelFailure"
)

// Segment is one timed span of recognized text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ErrorInfo is the wire form of a per-utterance failure.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is produced exactly once per dispatched utterance: either a
// transcript or an error, never both.
type Result struct {
	Text     string     `json:"text,omitempty"`
	Segments []Segment  `json:"segments,omitempty"`
	Language string     `json:"language,omitempty"`
	Err      *ErrorInfo `json:"error,omitempty"`
}

// Failed reports whether the result carries an error instead of text.
func (r Result) Failed() bool { return r.Err != nil }

// Transcriber is the speech-to-text model collaborator. Input is float32
// samples at exactly 16 kHz. Implementations may be slow (seconds) and must
// honor ctx cancellation where they can; the pool enforces the per-job
// deadline regardless. A Transcriber instance is used by one worker at a
// time. Empty lang means auto-detect; empty prompt means no priming.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, lang, prompt string) (Result, error)
	Close() error
}
