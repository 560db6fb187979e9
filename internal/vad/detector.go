// Package vad turns per-frame speech probabilities into utterance
// boundaries. The detector itself is a pluggable collaborator; the gate
// owns the endpointing state machine around it.
package vad

import (
	"fmt"
	"math"

	"github.com/larsmk/hark/internal/audio"
)

// Detector creates per-session probability streams. Implementations wrap a
// frame-level speech classifier; the default is the energy detector below,
// and Silero-class models plug in behind the same contract.
//
// Detectors must be safe for concurrent NewStream calls. A Stream belongs
// to a single session and is not shared across goroutines.
type Detector interface {
	NewStream() Stream
}

// Stream scores consecutive 512-sample frames for one session. The
// classifier is stateful; frames must arrive in time order.
type Stream interface {
	// Process returns the speech probability in [0, 1] for one frame.
	Process(frame []float32) (float64, error)

	// Reset clears detector state between utterance groups.
	Reset()
}

// EnergyDetector is a pure-Go detector scoring frames by RMS energy over a
// fixed noise floor. It is the in-process default; deployments with a
// model runtime replace it via the Detector seam.
type EnergyDetector struct {
	// NoiseFloor is the RMS level treated as certain silence.
	NoiseFloor float64
	// SpeechLevel is the RMS level treated as certain speech.
	SpeechLevel float64
}

// NewEnergyDetector returns a detector tuned for 16 kHz microphone input.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{NoiseFloor: 0.004, SpeechLevel: 0.04}
}

func (d *EnergyDetector) NewStream() Stream {
	return &energyStream{
		noiseFloor:  d.NoiseFloor,
		speechLevel: d.SpeechLevel,
	}
}

type energyStream struct {
	noiseFloor  float64
	speechLevel float64
	smoothed    float64
	frames      uint64
}

func (s *energyStream) Process(frame []float32) (float64, error) {
	if len(frame) != audio.FrameSize {
		return 0, fmt.Errorf("vad: expected %d samples, got %d", audio.FrameSize, len(frame))
	}

	var energy float64
	for _, v := range frame {
		energy += float64(v) * float64(v)
	}
	level := math.Sqrt(energy / float64(len(frame)))

	// Map the RMS level onto [0, 1] between the floor and the certain-speech
	// level, then smooth lightly so single hot frames don't spike.
	p := (level - s.noiseFloor) / (s.speechLevel - s.noiseFloor)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	if s.frames > 0 {
		p = 0.7*p + 0.3*s.smoothed
	}
	s.smoothed = p
	s.frames++
	return p, nil
}

func (s *energyStream) Reset() {
	s.smoothed = 0
	s.frames = 0
}
