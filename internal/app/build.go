// Package app wires the service together: engine selection, worker pool,
// config stores, audit logger, session manager, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/larsmk/hark/internal/archive"
	"github.com/larsmk/hark/internal/audiolog"
	"github.com/larsmk/hark/internal/config"
	"github.com/larsmk/hark/internal/httpapi"
	"github.com/larsmk/hark/internal/observability"
	"github.com/larsmk/hark/internal/recognizer"
	"github.com/larsmk/hark/internal/session"
	"github.com/larsmk/hark/internal/vad"
)

// BuildResult holds the wired service and its shutdown hook.
type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics
	AudioLog *audiolog.Logger
	Engine   string

	// Cleanup should be called on shutdown to release external resources
	// (pool workers, model, DB).
	Cleanup func() error
}

// Build constructs the service from config. The transcription model loads
// here, once, never inside a session task.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}

	engine, factory, engineCleanup, err := resolveEngine(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pool, err := recognizer.NewPool(factory, cfg.STTWorkers, cfg.STTMaxQueueDepth, cfg.STTJobTimeout)
	if err != nil {
		if engineCleanup != nil {
			_ = engineCleanup()
		}
		_ = store.Close()
		return nil, fmt.Errorf("worker pool init failed: %w", err)
	}

	audioCfg, err := audiolog.NewConfigStore(audiolog.Config{
		Enabled:   cfg.AudioLogEnabled,
		OutputDir: cfg.AudioLogDir,
		MaxFiles:  cfg.AudioLogMaxFiles,
	})
	if err != nil {
		pool.Close()
		if engineCleanup != nil {
			_ = engineCleanup()
		}
		_ = store.Close()
		return nil, fmt.Errorf("audio log config invalid: %w", err)
	}

	logger := audiolog.NewLogger(audioCfg)
	logger.SetWriteHook(func(ok bool) {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		metrics.AudioLogWrites.WithLabelValues(outcome).Inc()
	})

	tuning := vad.NewTuningStore(vad.Tuning{
		ThresholdOn:       cfg.VADThresholdOn,
		ThresholdOff:      cfg.VADThresholdOff,
		MinSpeechFrames:   cfg.VADMinSpeechFrame,
		HangoverFrames:    cfg.VADHangoverFrames,
		PreRoll:           cfg.VADPreRoll,
		MinSpeechDuration: cfg.VADMinSpeech,
		MaxSpeechDuration: cfg.VADMaxSpeech,
	})

	sessions := session.NewManager(
		session.Config{DrainTimeout: cfg.DrainTimeout, EndMark: session.DefaultConfig().EndMark},
		tuning,
		session.Deps{
			Detector: vad.NewEnergyDetector(),
			Pool:     pool,
			AudioLog: logger,
			Archive:  store,
			Metrics:  metrics,
		},
	)

	api := httpapi.New(cfg, sessions, pool, audioCfg, tuning, store, metrics, engine)

	cleanup := func() error {
		var errs []string
		pool.Close()
		if engineCleanup != nil {
			if err := engineCleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		AudioLog: logger,
		Engine:   engine,
		Cleanup:  cleanup,
	}, nil
}

// resolveEngine picks the speech-to-text backend. auto prefers whisper
// when the model file is present and falls back to the mock engine.
func resolveEngine(cfg config.Config) (name string, factory func() (recognizer.Transcriber, error), cleanup func() error, err error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.STTEngine))

	tryWhisper := func() (func() (recognizer.Transcriber, error), func() error, error) {
		model, err := recognizer.LoadWhisper(cfg.WhisperModelPath)
		if err != nil {
			return nil, nil, err
		}
		return model.NewTranscriber, model.Close, nil
	}

	switch mode {
	case "whisper":
		factory, cleanup, err := tryWhisper()
		if err != nil {
			return "", nil, nil, fmt.Errorf("STT_ENGINE=whisper: %w", err)
		}
		log.Printf("stt engine: whisper (%s)", cfg.WhisperModelPath)
		return "whisper", factory, cleanup, nil
	case "mock":
		log.Printf("stt engine: mock")
		return "mock", func() (recognizer.Transcriber, error) { return recognizer.NewMock(), nil }, nil, nil
	default: // auto
		if _, statErr := os.Stat(cfg.WhisperModelPath); statErr == nil {
			factory, cleanup, err := tryWhisper()
			if err == nil {
				log.Printf("stt engine: whisper (%s)", cfg.WhisperModelPath)
				return "whisper", factory, cleanup, nil
			}
			log.Printf("whisper unavailable: %v", err)
		}
		log.Printf("stt engine: mock (no whisper model at %s)", cfg.WhisperModelPath)
		return "mock", func() (recognizer.Transcriber, error) { return recognizer.NewMock(), nil }, nil, nil
	}
}
