package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8039" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.VADThresholdOn != 0.5 || cfg.VADThresholdOff != 0.35 {
		t.Fatalf("thresholds = %v / %v", cfg.VADThresholdOn, cfg.VADThresholdOff)
	}
	if cfg.VADHangoverFrames != 16 || cfg.VADMinSpeechFrame != 2 {
		t.Fatalf("frame counts = %d / %d", cfg.VADHangoverFrames, cfg.VADMinSpeechFrame)
	}
	if cfg.VADMaxSpeech != 30*time.Second {
		t.Fatalf("VADMaxSpeech = %v", cfg.VADMaxSpeech)
	}
	if cfg.STTMaxQueueDepth != 32 || cfg.STTJobTimeout != 30*time.Second {
		t.Fatalf("pool settings = %d / %v", cfg.STTMaxQueueDepth, cfg.STTJobTimeout)
	}
	if !cfg.AudioLogEnabled || cfg.AudioLogMaxFiles != 1000 {
		t.Fatalf("audio log settings = %v / %d", cfg.AudioLogEnabled, cfg.AudioLogMaxFiles)
	}
	if cfg.DrainTimeout != 10*time.Second {
		t.Fatalf("DrainTimeout = %v", cfg.DrainTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9000")
	t.Setenv("VAD_THRESHOLD_ON", "0.7")
	t.Setenv("VAD_THRESHOLD_OFF", "0.2")
	t.Setenv("STT_WORKERS", "4")
	t.Setenv("STT_ENGINE", "mock")
	t.Setenv("AUDIO_LOG_ENABLED", "off")
	t.Setenv("SESSION_DRAIN_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9000" || cfg.STTWorkers != 4 || cfg.STTEngine != "mock" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.VADThresholdOn != 0.7 || cfg.VADThresholdOff != 0.2 {
		t.Fatalf("thresholds = %v / %v", cfg.VADThresholdOn, cfg.VADThresholdOff)
	}
	if cfg.AudioLogEnabled {
		t.Fatalf("AUDIO_LOG_ENABLED=off not applied")
	}
	if cfg.DrainTimeout != 5*time.Second {
		t.Fatalf("DrainTimeout = %v", cfg.DrainTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"VAD_THRESHOLD_ON":      "1.5",
		"VAD_THRESHOLD_OFF":     "0.9", // above default on-threshold
		"STT_WORKERS":           "0",
		"STT_ENGINE":            "cloud",
		"STT_MAX_QUEUE_DEPTH":   "-1",
		"AUDIO_LOG_MAX_FILES":   "0",
		"SESSION_DRAIN_TIMEOUT": "10ms",
		"APP_ALLOW_ANY_ORIGIN":  "maybe",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%s", key, val)
			}
		})
	}
}

func TestLoadRejectsUnparseable(t *testing.T) {
	t.Setenv("VAD_PRE_ROLL", "lots")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted unparseable duration")
	}
}
