package httpapi

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/larsmk/hark/internal/audio"
	"github.com/larsmk/hark/internal/audiolog"
)

// handlePlayAudioLog serves an audit .raw rendered as a 16-bit WAV so it
// plays directly in a browser.
func (s *Server) handlePlayAudioLog(w http.ResponseWriter, r *http.Request) {
	samples, name, ok := s.loadAudioLog(w, r)
	if !ok {
		return
	}

	wav, err := audio.EncodeWAV(samples, audio.SampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "wav_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(wav)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", wavName(name)))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(wav)
}

// handleDownloadAudioLog serves the raw float32 bytes as an attachment.
func (s *Server) handleDownloadAudioLog(w http.ResponseWriter, r *http.Request) {
	samples, name, ok := s.loadAudioLog(w, r)
	if !ok {
		return
	}
	raw := audio.EncodeFloat32(samples)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(raw)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(raw)
}

func (s *Server) loadAudioLog(w http.ResponseWriter, r *http.Request) ([]float32, string, bool) {
	cfg := s.audioCfg.Snapshot()
	if !cfg.Enabled {
		respondError(w, http.StatusForbidden, "audio_log_disabled", "audio logging is disabled")
		return nil, "", false
	}

	name := chi.URLParam(r, "filename")
	path, err := audiolog.ResolveRaw(cfg.OutputDir, name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filename", err.Error())
		return nil, "", false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			respondError(w, http.StatusNotFound, "not_found", "audio file not found")
		} else {
			respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		}
		return nil, "", false
	}

	samples, err := audio.DecodeFloat32(raw)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "corrupt_file", err.Error())
		return nil, "", false
	}
	return samples, name, true
}

func wavName(raw string) string {
	const suffix = ".raw"
	if len(raw) > len(suffix) && raw[len(raw)-len(suffix):] == suffix {
		return raw[:len(raw)-len(suffix)] + ".wav"
	}
	return raw + ".wav"
}
