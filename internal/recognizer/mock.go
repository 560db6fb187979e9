package recognizer

import (
	"context"

	"github.com/larsmk/hark/internal/audio"
)

// MockTranscriber is the fallback engine used when no model is configured
// and the default in tests. It returns a fixed transcript spanning the
// utterance, or empty text for all-silence input.
type MockTranscriber struct {
	Text string
}

// NewMock returns a mock engine with the stock placeholder transcript.
func NewMock() *MockTranscriber {
	return &MockTranscriber{Text: "simulated voice input"}
}

func (m *MockTranscriber) Transcribe(_ context.Context, samples []float32, lang, _ string) (Result, error) {
	dur := float64(len(samples)) / audio.SampleRate

	silent := true
	for _, s := range samples {
		if s != 0 {
			silent = false
			break
		}
	}
	if silent {
		return Result{Language: lang}, nil
	}

	return Result{
		Text:     m.Text,
		Language: lang,
		Segments: []Segment{{Start: 0, End: dur, Text: m.Text}},
	}, nil
}

func (m *MockTranscriber) Close() error { return nil }
