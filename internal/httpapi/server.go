package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/larsmk/hark/internal/archive"
	"github.com/larsmk/hark/internal/audiolog"
	"github.com/larsmk/hark/internal/config"
	"github.com/larsmk/hark/internal/observability"
	"github.com/larsmk/hark/internal/recognizer"
	"github.com/larsmk/hark/internal/session"
	"github.com/larsmk/hark/internal/vad"
)

// Server exposes the audio socket and the admin surface.
type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	pool      *recognizer.Pool
	audioCfg  *audiolog.ConfigStore
	vadTuning *vad.TuningStore
	archive   archive.Store
	metrics   *observability.Metrics
	engine    string
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, pool *recognizer.Pool, audioCfg *audiolog.ConfigStore, vadTuning *vad.TuningStore, store archive.Store, metrics *observability.Metrics, engine string) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		pool:      pool,
		audioCfg:  audioCfg,
		vadTuning: vadTuning,
		archive:   store,
		metrics:   metrics,
		engine:    engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/ws/audio", s.handleAudioWS)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/config/audio-log", s.handleGetAudioLogConfig)
	r.Post("/config/audio-log", s.handleUpdateAudioLogConfig)
	r.Get("/config/vad", s.handleGetVADConfig)
	r.Post("/config/vad", s.handleUpdateVADConfig)
	r.Post("/config/vad/reset", s.handleResetVADConfig)

	r.Get("/logs/audio/list", s.handleListAudioLogs)
	r.Get("/logs/audio/play/{filename}", s.handlePlayAudioLog)
	r.Get("/logs/audio/download/{filename}", s.handleDownloadAudioLog)
	r.Get("/logs/transcripts", s.handleRecentTranscripts)

	return r
}

// handleAudioWS upgrades the audio socket and pumps it through a session:
// one reader (this goroutine), one writer goroutine, and the session task.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Open()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan session.Message, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = sess.Run(ctx, inbound, outbound)
		close(outbound) // the session is the only sender
		cancel()
	}()

	// Single writer: drains outbound until the session closes it, so the
	// final message (drain result, handshake error) is always flushed.
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				for range outbound {
				}
				return
			}
		}
	}()

	// Once the session has finished and its messages are flushed, the
	// server initiates the close; this also unblocks the read loop.
	go func() {
		<-runDone
		<-writerDone
		conn.Close()
	}()

	conn.SetReadLimit(4 << 20)

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg session.Message
		switch msgType {
		case websocket.TextMessage:
			msg = session.Message{Kind: session.TextMessage, Data: data}
		case websocket.BinaryMessage:
			msg = session.Message{Kind: session.BinaryMessage, Data: data}
		default:
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	close(inbound)
	<-runDone
	<-writerDone
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	audioCfg := s.audioCfg.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_sessions":   s.sessions.ActiveCount(),
		"model_loaded":      s.pool.Workers() > 0,
		"stt_engine":        s.engine,
		"workers_total":     s.pool.Workers(),
		"workers_retired":   s.pool.Retired(),
		"audio_log_enabled": audioCfg.Enabled,
		"audio_log_dir":     audioCfg.OutputDir,
	})
}

func (s *Server) handleGetAudioLogConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.audioCfg.Snapshot())
}

func (s *Server) handleUpdateAudioLogConfig(w http.ResponseWriter, r *http.Request) {
	var patch audiolog.Patch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg, err := s.audioCfg.Apply(patch)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

type vadConfigResponse struct {
	ThresholdOn     float64 `json:"threshold_on"`
	ThresholdOff    float64 `json:"threshold_off"`
	MinSpeechFrames int     `json:"min_speech_frames"`
	HangoverFrames  int     `json:"hangover_frames"`
	PreRollMs       int64   `json:"pre_roll_ms"`
	MinSpeechMs     int64   `json:"min_speech_duration_ms"`
	MaxSpeechSec    float64 `json:"max_speech_duration_s"`
}

func vadResponse(t vad.Tuning) vadConfigResponse {
	return vadConfigResponse{
		ThresholdOn:     t.ThresholdOn,
		ThresholdOff:    t.ThresholdOff,
		MinSpeechFrames: t.MinSpeechFrames,
		HangoverFrames:  t.HangoverFrames,
		PreRollMs:       t.PreRoll.Milliseconds(),
		MinSpeechMs:     t.MinSpeechDuration.Milliseconds(),
		MaxSpeechSec:    t.MaxSpeechDuration.Seconds(),
	}
}

func (s *Server) handleGetVADConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, vadResponse(s.vadTuning.Snapshot()))
}

func (s *Server) handleUpdateVADConfig(w http.ResponseWriter, r *http.Request) {
	var patch vad.TuningPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Values are clamped, not rejected; the change applies to sessions
	// opened after it.
	respondJSON(w, http.StatusOK, vadResponse(s.vadTuning.Apply(patch)))
}

func (s *Server) handleResetVADConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, vadResponse(s.vadTuning.Reset()))
}

func (s *Server) handleListAudioLogs(w http.ResponseWriter, _ *http.Request) {
	cfg := s.audioCfg.Snapshot()
	files, err := audiolog.List(cfg.OutputDir)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if files == nil {
		files = []audiolog.FileInfo{}
	}
	respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleRecentTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	records, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_failed", err.Error())
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func parsePositiveInt(v string) (int, error) {
	var n int
	if err := json.Unmarshal([]byte(v), &n); err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
