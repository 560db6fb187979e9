package audiolog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/larsmk/hark/internal/audio"
)

// Metadata is the .meta sidecar document. Timestamp is the same string
// embedded in the filename.
type Metadata struct {
	Filename        string  `json:"filename"`
	SessionID       int64   `json:"session_id"`
	Timestamp       string  `json:"timestamp"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	DataType        string  `json:"data_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int     `json:"samples"`
}

// Entry is one sealed utterance queued for persistence.
type Entry struct {
	SessionID int64
	Samples   []float32
	At        time.Time
}

// Logger persists utterances and drives rotation. All filesystem mutations
// for the audit directory run on the single task goroutine, so publishes
// and evictions never race. Storage failures are logged and never affect
// recognition delivery.
type Logger struct {
	store   *ConfigStore
	queue   chan Entry
	done    chan struct{}
	sweep   time.Duration
	onWrite func(ok bool) // metrics hook, may be nil
}

// NewLogger builds a logger over the shared config store. Call Run to
// start the task.
func NewLogger(store *ConfigStore) *Logger {
	return &Logger{
		store: store,
		queue: make(chan Entry, 64),
		done:  make(chan struct{}),
		sweep: time.Minute,
	}
}

// SetWriteHook installs a callback invoked after each publish attempt.
// Must be called before Run.
func (l *Logger) SetWriteHook(fn func(ok bool)) { l.onWrite = fn }

// Submit queues an utterance for persistence without blocking the session.
// When the queue is full the entry is dropped and logged; audit persistence
// is best-effort by design of the error policy.
func (l *Logger) Submit(e Entry) {
	select {
	case l.queue <- e:
	default:
		log.Printf("audiolog: submission queue full, dropping utterance for session %d", e.SessionID)
	}
}

// Run processes submissions until ctx is cancelled, then finishes the
// current write and exits. It owns every mutation of the log directory.
func (l *Logger) Run(ctx context.Context) {
	defer close(l.done)

	var rot rotator
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-l.queue:
			l.handle(&rot, e)
		case <-ticker.C:
			// Periodic sweep catches externally added files.
			cfg := l.store.Snapshot()
			if !cfg.Enabled {
				continue
			}
			if err := rot.retarget(cfg.OutputDir); err != nil {
				log.Printf("audiolog: sweep: %v", err)
				continue
			}
			rot.enforce(cfg.MaxFiles)
		}
	}
}

// Wait blocks until the task has exited.
func (l *Logger) Wait() { <-l.done }

func (l *Logger) handle(rot *rotator, e Entry) {
	cfg := l.store.Snapshot()
	if !cfg.Enabled {
		return
	}
	if rot.dir != cfg.OutputDir {
		if err := rot.retarget(cfg.OutputDir); err != nil {
			log.Printf("audiolog: %v", err)
		}
	}

	name, err := l.publish(cfg, e)
	if l.onWrite != nil {
		l.onWrite(err == nil)
	}
	if err != nil {
		log.Printf("audiolog: persist utterance for session %d: %v", e.SessionID, err)
		return
	}
	rot.add(name, e.At.UTC().Truncate(time.Millisecond))
	rot.enforce(cfg.MaxFiles)
}

// publish writes the (raw, meta) pair with the tempfile + fsync + rename
// pattern so a file is only ever visible under its final name in its
// complete state. On failure the half-written pair is cleaned up
// best-effort.
func (l *Logger) publish(cfg Config, e Entry) (string, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	name := Filename(e.At, e.SessionID)
	rawPath := filepath.Join(cfg.OutputDir, name)
	metaPath := strings.TrimSuffix(rawPath, rawSuffix) + metaSuffix

	if err := atomicWrite(rawPath, audio.EncodeFloat32(e.Samples)); err != nil {
		return "", fmt.Errorf("raw: %w", err)
	}

	meta := Metadata{
		Filename:        name,
		SessionID:       e.SessionID,
		Timestamp:       FormatTimestamp(e.At),
		SampleRate:      audio.SampleRate,
		Channels:        1,
		DataType:        "float32",
		DurationSeconds: float64(len(e.Samples)) / audio.SampleRate,
		Samples:         len(e.Samples),
	}
	doc, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.Remove(rawPath)
		return "", fmt.Errorf("meta encode: %w", err)
	}
	if err := atomicWrite(metaPath, doc); err != nil {
		os.Remove(rawPath)
		return "", fmt.Errorf("meta: %w", err)
	}
	return name, nil
}

// atomicWrite publishes data at path via tempfile, fsync, rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
