package recognizer

// Whisper engine backed by the whisper.cpp CGO bindings. libwhisper.a and
// whisper.h must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperModel wraps a shared whisper.cpp model. The model loads once at
// startup; each pool worker gets its own WhisperTranscriber, and each
// inference runs on a fresh context since contexts are not thread-safe.
type WhisperModel struct {
	model whisperlib.Model
}

// LoadWhisper loads a ggml model file.
func LoadWhisper(modelPath string) (*WhisperModel, error) {
	if modelPath == "" {
		return nil, errors.New("recognizer: whisper model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("recognizer: load whisper model %q: %w", modelPath, err)
	}
	return &WhisperModel{model: model}, nil
}

// Close releases the model. Call only after every worker has closed.
func (m *WhisperModel) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

// NewTranscriber returns a worker-owned Transcriber over the shared model.
func (m *WhisperModel) NewTranscriber() (Transcriber, error) {
	return &WhisperTranscriber{model: m.model}, nil
}

// WhisperTranscriber implements Transcriber over whisper.cpp.
type WhisperTranscriber struct {
	model whisperlib.Model
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, lang, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper context: %w", err)
	}

	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("whisper language %q: %w", lang, err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper inference: %w", err)
	}

	var (
		segments []Segment
		parts    []string
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("whisper segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segments = append(segments, Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = lang
	}
	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segments,
		Language: detected,
	}, nil
}

func (t *WhisperTranscriber) Close() error { return nil }
