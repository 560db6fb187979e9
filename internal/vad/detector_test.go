package vad

import (
	"math"
	"testing"

	"github.com/larsmk/hark/internal/audio"
)

func toneFrame(amplitude float64) []float32 {
	f := make([]float32, audio.FrameSize)
	for i := range f {
		f[i] = float32(amplitude * math.Sin(2*math.Pi*float64(i)/64))
	}
	return f
}

func TestEnergyStreamScoresSilenceLow(t *testing.T) {
	s := NewEnergyDetector().NewStream()
	for i := 0; i < 5; i++ {
		p, err := s.Process(make([]float32, audio.FrameSize))
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if p != 0 {
			t.Fatalf("silence probability = %v, want 0", p)
		}
	}
}

func TestEnergyStreamScoresLoudHigh(t *testing.T) {
	s := NewEnergyDetector().NewStream()
	var p float64
	var err error
	for i := 0; i < 10; i++ {
		p, err = s.Process(toneFrame(0.5))
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	if p < 0.9 {
		t.Fatalf("loud tone probability = %v, want ≥ 0.9", p)
	}
}

func TestEnergyStreamRejectsWrongFrameSize(t *testing.T) {
	s := NewEnergyDetector().NewStream()
	if _, err := s.Process(make([]float32, 100)); err == nil {
		t.Fatalf("expected error for wrong frame size")
	}
}

func TestEnergyStreamResetClearsSmoothing(t *testing.T) {
	s := NewEnergyDetector().NewStream()
	for i := 0; i < 5; i++ {
		if _, err := s.Process(toneFrame(0.5)); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	s.Reset()
	p, err := s.Process(make([]float32, audio.FrameSize))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if p != 0 {
		t.Fatalf("probability after Reset = %v, want 0", p)
	}
}
