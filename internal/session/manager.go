// Package session binds one streaming pipeline to each audio socket: frame
// assembly, VAD gating, dispatch to the shared worker pool, and the audit
// side-channel.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/larsmk/hark/internal/archive"
	"github.com/larsmk/hark/internal/audiolog"
	"github.com/larsmk/hark/internal/observability"
	"github.com/larsmk/hark/internal/recognizer"
	"github.com/larsmk/hark/internal/vad"
)

// State is the session input state.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
	StateTranscribing State = "transcribing"
	StateClosed       State = "closed"
)

// Config holds per-session protocol parameters.
type Config struct {
	// DrainTimeout bounds the wait for outstanding transcriptions after an
	// end-mark.
	DrainTimeout time.Duration
	// EndMark is the minimum run of zero samples recognized as the client's
	// "finish and close" signal.
	EndMark time.Duration
}

// DefaultConfig returns the stock protocol parameters.
func DefaultConfig() Config {
	return Config{DrainTimeout: 10 * time.Second, EndMark: 3 * time.Second}
}

// Deps are the collaborators shared across all sessions. AudioLog and
// Archive may be nil.
type Deps struct {
	Detector vad.Detector
	Pool     *recognizer.Pool
	AudioLog *audiolog.Logger
	Archive  archive.Store
	Metrics  *observability.Metrics
}

// Manager hands out monotonically increasing session ids and tracks the
// live set. The VAD tuning is snapshotted per session at open, so admin
// mutations apply to sessions accepted after the change.
type Manager struct {
	cfg     Config
	tunings *vad.TuningStore
	deps    Deps

	nextID atomic.Int64
	mu     sync.Mutex
	active map[int64]*Session
}

func NewManager(cfg Config, tunings *vad.TuningStore, deps Deps) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.EndMark <= 0 {
		cfg.EndMark = 3 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		tunings: tunings,
		deps:    deps,
		active:  make(map[int64]*Session),
	}
}

// Open creates a session for a freshly accepted socket.
func (m *Manager) Open() *Session {
	s := &Session{
		id:        m.nextID.Add(1),
		mgr:       m,
		cfg:       m.cfg,
		tuning:    m.tunings.Snapshot(),
		deps:      m.deps,
		state:     StateIdle,
		createdAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.active[s.id] = s
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.SessionEvents.WithLabelValues("opened").Inc()
		m.deps.Metrics.ActiveSessions.Set(float64(m.ActiveCount()))
	}
	return s
}

// ActiveCount returns the number of sessions that have not closed.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	delete(m.active, s.id)
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.SessionEvents.WithLabelValues("closed").Inc()
		m.deps.Metrics.ActiveSessions.Set(float64(m.ActiveCount()))
	}
}
