// Package protocol defines the audio-socket wire messages. The client
// sends one JSON handshake followed by binary PCM frames; the server sends
// JSON event objects, one per message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/larsmk/hark/internal/recognizer"
)

// MessageType identifies server payload variants.
type MessageType string

const (
	TypeVADResult         MessageType = "vad_result"
	TypeRecognitionResult MessageType = "recognition_result"
)

// Error kinds surfaced at the transport layer. Model-side kinds live with
// the recognizer.
const (
	KindBadHandshake = "BadHandshake"
	KindOddByteCount = "OddByteCount"
)

var ErrBadHandshake = errors.New("malformed handshake")

// Handshake is the first client message. Empty lang selects language
// auto-detection; empty prompt disables priming.
type Handshake struct {
	Lang   string `json:"lang"`
	Prompt string `json:"prompt"`
}

// ParseHandshake validates the first client message. It must be a UTF-8
// JSON object whose lang and prompt fields, when present, are strings.
func ParseHandshake(raw []byte) (Handshake, error) {
	if !utf8.Valid(raw) {
		return Handshake{}, fmt.Errorf("%w: not valid UTF-8", ErrBadHandshake)
	}
	var h Handshake
	if err := json.Unmarshal(raw, &h); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	h.Lang = strings.TrimSpace(h.Lang)
	h.Prompt = strings.TrimSpace(h.Prompt)
	return h, nil
}

// VADResult reports a speech boundary. Exactly one of SpeechDetected and
// SpeechEnded is true per message.
type VADResult struct {
	Type           MessageType `json:"type"`
	SessionID      int64       `json:"session_id"`
	SpeechID       string      `json:"speech_id"`
	SpeechDetected bool        `json:"speech_detected"`
	SpeechEnded    bool        `json:"speech_ended"`
	BufferSize     int         `json:"buffer_size"`
	Timestamp      float64     `json:"timestamp"`
}

// NewSpeechStart builds the speech_start wire event.
func NewSpeechStart(sessionID int64, speechID string, bufferSize int, ts float64) VADResult {
	return VADResult{
		Type:           TypeVADResult,
		SessionID:      sessionID,
		SpeechID:       speechID,
		SpeechDetected: true,
		BufferSize:     bufferSize,
		Timestamp:      ts,
	}
}

// NewSpeechEnd builds the speech_end wire event.
func NewSpeechEnd(sessionID int64, speechID string, bufferSize int, ts float64) VADResult {
	return VADResult{
		Type:        TypeVADResult,
		SessionID:   sessionID,
		SpeechID:    speechID,
		SpeechEnded: true,
		BufferSize:  bufferSize,
		Timestamp:   ts,
	}
}

// RecognitionResult carries one per-utterance transcription outcome,
// success or error.
type RecognitionResult struct {
	Type      MessageType       `json:"type"`
	SessionID int64             `json:"session_id"`
	SpeechID  string            `json:"speech_id"`
	Timestamp float64           `json:"timestamp"`
	Result    recognizer.Result `json:"result"`
}

// NewRecognitionResult builds the recognition_result wire event.
func NewRecognitionResult(sessionID int64, speechID string, res recognizer.Result, ts float64) RecognitionResult {
	return RecognitionResult{
		Type:      TypeRecognitionResult,
		SessionID: sessionID,
		SpeechID:  speechID,
		Timestamp: ts,
		Result:    res,
	}
}

// ErrorResult wraps a transport-level error kind as a recognition_result
// payload, the shape clients already handle.
func ErrorResult(sessionID int64, speechID, kind, message string, ts float64) RecognitionResult {
	return NewRecognitionResult(sessionID, speechID, recognizer.Result{
		Err: &recognizer.ErrorInfo{Kind: kind, Message: message},
	}, ts)
}
