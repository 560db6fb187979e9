package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the recognition service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// VAD endpointing.
	VADThresholdOn    float64
	VADThresholdOff   float64
	VADMinSpeechFrame int
	VADHangoverFrames int
	VADPreRoll        time.Duration
	VADMinSpeech      time.Duration
	VADMaxSpeech      time.Duration

	// Transcription pool.
	STTEngine        string
	WhisperModelPath string
	STTWorkers       int
	STTJobTimeout    time.Duration
	STTMaxQueueDepth int

	// Audit log.
	AudioLogEnabled  bool
	AudioLogDir      string
	AudioLogMaxFiles int

	// Session protocol.
	DrainTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8039"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "hark"),
		AllowAnyOrigin:    false,
		ShutdownTimeout:   15 * time.Second,
		VADThresholdOn:    0.5,
		VADThresholdOff:   0.35,
		VADMinSpeechFrame: 2,
		VADHangoverFrames: 16,
		VADPreRoll:        512 * time.Millisecond,
		VADMinSpeech:      250 * time.Millisecond,
		VADMaxSpeech:      30 * time.Second,
		STTEngine:         envOrDefault("STT_ENGINE", "auto"),
		WhisperModelPath:  envOrDefault("STT_WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		STTWorkers:        2,
		STTJobTimeout:     30 * time.Second,
		STTMaxQueueDepth:  32,
		AudioLogEnabled:   true,
		AudioLogDir:       envOrDefault("AUDIO_LOG_DIR", "audio_logs"),
		AudioLogMaxFiles:  1000,
		DrainTimeout:      10 * time.Second,
		DatabaseURL:       trimSpaceEnv("DATABASE_URL"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.VADThresholdOn, err = floatFromEnv("VAD_THRESHOLD_ON", cfg.VADThresholdOn); err != nil {
		return Config{}, err
	}
	if cfg.VADThresholdOff, err = floatFromEnv("VAD_THRESHOLD_OFF", cfg.VADThresholdOff); err != nil {
		return Config{}, err
	}
	if cfg.VADMinSpeechFrame, err = intFromEnv("VAD_MIN_SPEECH_FRAMES", cfg.VADMinSpeechFrame); err != nil {
		return Config{}, err
	}
	if cfg.VADHangoverFrames, err = intFromEnv("VAD_HANGOVER_FRAMES", cfg.VADHangoverFrames); err != nil {
		return Config{}, err
	}
	if cfg.VADPreRoll, err = durationFromEnv("VAD_PRE_ROLL", cfg.VADPreRoll); err != nil {
		return Config{}, err
	}
	if cfg.VADMinSpeech, err = durationFromEnv("VAD_MIN_SPEECH_DURATION", cfg.VADMinSpeech); err != nil {
		return Config{}, err
	}
	if cfg.VADMaxSpeech, err = durationFromEnv("VAD_MAX_SPEECH_DURATION", cfg.VADMaxSpeech); err != nil {
		return Config{}, err
	}
	if cfg.STTWorkers, err = intFromEnv("STT_WORKERS", cfg.STTWorkers); err != nil {
		return Config{}, err
	}
	if cfg.STTJobTimeout, err = durationFromEnv("STT_JOB_TIMEOUT", cfg.STTJobTimeout); err != nil {
		return Config{}, err
	}
	if cfg.STTMaxQueueDepth, err = intFromEnv("STT_MAX_QUEUE_DEPTH", cfg.STTMaxQueueDepth); err != nil {
		return Config{}, err
	}
	if cfg.AudioLogEnabled, err = boolFromEnv("AUDIO_LOG_ENABLED", cfg.AudioLogEnabled); err != nil {
		return Config{}, err
	}
	if cfg.AudioLogMaxFiles, err = intFromEnv("AUDIO_LOG_MAX_FILES", cfg.AudioLogMaxFiles); err != nil {
		return Config{}, err
	}
	if cfg.DrainTimeout, err = durationFromEnv("SESSION_DRAIN_TIMEOUT", cfg.DrainTimeout); err != nil {
		return Config{}, err
	}

	switch strings.ToLower(cfg.STTEngine) {
	case "auto", "whisper", "mock":
	default:
		return Config{}, fmt.Errorf("STT_ENGINE must be auto, whisper, or mock, got %q", cfg.STTEngine)
	}
	if cfg.VADThresholdOn < 0 || cfg.VADThresholdOn > 1 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD_ON must be in [0, 1]")
	}
	if cfg.VADThresholdOff < 0 || cfg.VADThresholdOff > cfg.VADThresholdOn {
		return Config{}, fmt.Errorf("VAD_THRESHOLD_OFF must be in [0, VAD_THRESHOLD_ON]")
	}
	if cfg.STTWorkers < 1 {
		return Config{}, fmt.Errorf("STT_WORKERS must be at least 1")
	}
	if cfg.STTMaxQueueDepth < 1 {
		return Config{}, fmt.Errorf("STT_MAX_QUEUE_DEPTH must be at least 1")
	}
	if cfg.AudioLogMaxFiles < 1 {
		return Config{}, fmt.Errorf("AUDIO_LOG_MAX_FILES must be at least 1")
	}
	if cfg.VADMaxSpeech < time.Second {
		return Config{}, fmt.Errorf("VAD_MAX_SPEECH_DURATION must be at least 1s")
	}
	if cfg.DrainTimeout < time.Second {
		return Config{}, fmt.Errorf("SESSION_DRAIN_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpaceEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
