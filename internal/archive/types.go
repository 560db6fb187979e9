// Package archive persists recognition results for offline review. The
// archive is a side-channel: failures are logged and never affect delivery
// to the client.
package archive

import (
	"context"
	"time"
)

// Record stores one transcribed utterance.
type Record struct {
	ID        string    `json:"id"`
	SessionID int64     `json:"session_id"`
	SpeechID  string    `json:"speech_id"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	Duration  float64   `json:"duration_seconds"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves transcribed utterances.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
