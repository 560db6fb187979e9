// Package audiolog persists sealed utterances as raw-PCM files with JSON
// sidecars and keeps the directory bounded by oldest-first eviction.
package audiolog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config is the audit-log configuration. It is process-wide and mutable
// through the admin API; sessions read a snapshot per utterance so a
// mid-write mutation never strands a half-written pair.
type Config struct {
	Enabled   bool   `json:"enabled"`
	OutputDir string `json:"output_dir"`
	MaxFiles  int    `json:"max_files"`
}

// DefaultConfig mirrors the reference deployment defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, OutputDir: "audio_logs", MaxFiles: 1000}
}

// Validate rejects configurations the logger could not operate with. The
// output directory must be creatable and writable.
func (c Config) Validate() error {
	if c.MaxFiles < 1 {
		return fmt.Errorf("max_files must be at least 1, got %d", c.MaxFiles)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output_dir %q is not creatable: %w", c.OutputDir, err)
	}
	probe, err := os.CreateTemp(c.OutputDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("output_dir %q is not writable: %w", c.OutputDir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// Patch is a partial admin update; nil fields keep the current value.
type Patch struct {
	Enabled   *bool   `json:"enabled"`
	OutputDir *string `json:"output_dir"`
	MaxFiles  *int    `json:"max_files"`
}

// ConfigStore holds the current Config behind a single-writer mutation
// point. Readers copy the snapshot; changes apply on the next utterance.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

// NewConfigStore seeds the store with an initial config, validated only
// when it is enabled.
func NewConfigStore(cfg Config) (*ConfigStore, error) {
	if cfg.Enabled {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	return &ConfigStore{cfg: cfg}, nil
}

// Snapshot returns a copy of the current configuration.
func (s *ConfigStore) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply validates the patched configuration and installs it atomically.
// On error the stored config is unchanged.
func (s *ConfigStore) Apply(p Patch) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.OutputDir != nil {
		next.OutputDir = filepath.Clean(*p.OutputDir)
	}
	if p.MaxFiles != nil {
		next.MaxFiles = *p.MaxFiles
	}
	if err := next.Validate(); err != nil {
		return s.cfg, err
	}
	s.cfg = next
	return next, nil
}
