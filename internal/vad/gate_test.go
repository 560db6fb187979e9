package vad

import (
	"fmt"
	"testing"
	"time"

	"github.com/larsmk/hark/internal/audio"
)

// scriptStream replays a fixed probability sequence, repeating the last
// value once the script runs out.
type scriptStream struct {
	probs []float64
	pos   int
}

func (s *scriptStream) Process(frame []float32) (float64, error) {
	if len(frame) != audio.FrameSize {
		return 0, fmt.Errorf("unexpected frame size %d", len(frame))
	}
	p := s.probs[len(s.probs)-1]
	if s.pos < len(s.probs) {
		p = s.probs[s.pos]
		s.pos++
	}
	return p, nil
}

func (s *scriptStream) Reset() { s.pos = 0 }

func frame() []float32 { return make([]float32, audio.FrameSize) }

func testTuning() Tuning {
	t := DefaultTuning()
	t.MinSpeechDuration = 0
	return t
}

func feedAll(t *testing.T, g *Gate, n int) ([]Event, []*Utterance) {
	t.Helper()
	var events []Event
	var utts []*Utterance
	for i := 0; i < n; i++ {
		ev, utt, err := g.Feed(frame())
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		events = append(events, ev...)
		if utt != nil {
			utts = append(utts, utt)
		}
	}
	return events, utts
}

func script(speechFrames, silenceFrames int) *scriptStream {
	var probs []float64
	for i := 0; i < speechFrames; i++ {
		probs = append(probs, 0.9)
	}
	for i := 0; i < silenceFrames; i++ {
		probs = append(probs, 0.05)
	}
	return &scriptStream{probs: probs}
}

func TestGateSingleUtterance(t *testing.T) {
	tn := testTuning()
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), script(20, 40))

	events, utts := feedAll(t, g, 60)
	if len(events) != 2 {
		t.Fatalf("got %d events, want start+end", len(events))
	}
	if events[0].Type != SpeechStart || events[1].Type != SpeechEnd {
		t.Fatalf("event order = %v, %v", events[0].Type, events[1].Type)
	}
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}

	// Debounce (2 frames) + remaining speech (18) + hangover (16), no
	// pre-roll audio exists yet beyond what was written.
	wantMin := 20 * audio.FrameSize
	wantMax := (20 + tn.HangoverFrames) * audio.FrameSize
	n := len(utts[0].Samples)
	if n < wantMin || n > wantMax {
		t.Fatalf("utterance samples = %d, want within [%d, %d]", n, wantMin, wantMax)
	}
}

func TestGateHysteresisHoldsThroughBorderlineFrames(t *testing.T) {
	tn := testTuning()
	// Speech, then frames between the thresholds, then real silence. The
	// borderline frames must not count toward the hangover.
	var probs []float64
	for i := 0; i < 5; i++ {
		probs = append(probs, 0.9)
	}
	for i := 0; i < 30; i++ {
		probs = append(probs, 0.4) // above off (0.35), below on (0.5)
	}
	for i := 0; i < 20; i++ {
		probs = append(probs, 0.1)
	}
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), &scriptStream{probs: probs})

	events, _ := feedAll(t, g, 30)
	if len(events) != 1 || events[0].Type != SpeechStart {
		t.Fatalf("borderline frames ended the utterance early: %v", events)
	}

	events, _ = feedAll(t, g, 25)
	if len(events) != 1 || events[0].Type != SpeechEnd {
		t.Fatalf("real silence did not seal: %v", events)
	}
}

func TestGateDebounceIgnoresSingleHotFrame(t *testing.T) {
	tn := testTuning()
	probs := []float64{0.9, 0.1, 0.1, 0.1}
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), &scriptStream{probs: probs})

	events, _ := feedAll(t, g, 4)
	if len(events) != 0 {
		t.Fatalf("single hot frame triggered events: %v", events)
	}
}

func TestGatePreRollIncluded(t *testing.T) {
	tn := testTuning()
	// 30 silence frames first so the pre-roll window is fully populated.
	var probs []float64
	for i := 0; i < 30; i++ {
		probs = append(probs, 0.0)
	}
	for i := 0; i < 10; i++ {
		probs = append(probs, 0.9)
	}
	for i := 0; i < 20; i++ {
		probs = append(probs, 0.0)
	}
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), &scriptStream{probs: probs})

	_, utts := feedAll(t, g, 60)
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	preRoll := int(tn.PreRoll * audio.SampleRate / time.Second)
	wantMin := preRoll + 10*audio.FrameSize
	if len(utts[0].Samples) < wantMin {
		t.Fatalf("utterance samples = %d, want ≥ %d (pre-roll missing)", len(utts[0].Samples), wantMin)
	}
}

func TestGateMaxDurationForcesSeal(t *testing.T) {
	tn := testTuning()
	tn.MaxSpeechDuration = 500 * time.Millisecond
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), &scriptStream{probs: []float64{0.9}})

	// Endless speech: the gate must seal on its own at the duration cap.
	events, utts := feedAll(t, g, 64)
	var starts, ends int
	for _, e := range events {
		switch e.Type {
		case SpeechStart:
			starts++
		case SpeechEnd:
			ends++
		}
	}
	if starts < 1 || ends < 1 {
		t.Fatalf("forced seal missing: %d starts, %d ends", starts, ends)
	}
	if len(utts) == 0 {
		t.Fatalf("no utterance from forced seal")
	}
	maxSamples := int(tn.MaxSpeechDuration*audio.SampleRate/time.Second) +
		int(tn.PreRoll*audio.SampleRate/time.Second)
	if len(utts[0].Samples) > maxSamples {
		t.Fatalf("utterance samples = %d, exceeds cap %d", len(utts[0].Samples), maxSamples)
	}
}

func TestGateShortUtteranceDropped(t *testing.T) {
	tn := testTuning()
	tn.MinSpeechDuration = 2 * time.Second
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), script(5, 40))

	events, utts := feedAll(t, g, 45)
	var ends int
	for _, e := range events {
		if e.Type == SpeechEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("got %d SpeechEnd events, want 1", ends)
	}
	if len(utts) != 0 {
		t.Fatalf("short utterance was not dropped")
	}
}

// Property: for any probability stream, starts and ends alternate, starting
// with a start.
func TestGateEventsAlternate(t *testing.T) {
	probs := []float64{0.9, 0.9, 0.9, 0.1, 0.9, 0.9, 0.05}
	var long []float64
	for i := 0; i < 12; i++ {
		long = append(long, probs...)
	}
	tn := testTuning()
	tn.HangoverFrames = 2
	g := NewGate(tn, audio.NewRing(tn.RingCapacity()), &scriptStream{probs: long})

	events, _ := feedAll(t, g, len(long))
	wantStart := true
	for i, e := range events {
		if wantStart && e.Type != SpeechStart {
			t.Fatalf("event %d = end, want start", i)
		}
		if !wantStart && e.Type != SpeechEnd {
			t.Fatalf("event %d = start, want end", i)
		}
		wantStart = !wantStart
	}
}

func TestTuningClamp(t *testing.T) {
	tn := Tuning{ThresholdOn: 1.5, ThresholdOff: 2.0, MinSpeechFrames: 0, HangoverFrames: -1}
	c := tn.Clamp()
	if c.ThresholdOn != 1 || c.ThresholdOff != 1 {
		t.Fatalf("thresholds not clamped: %+v", c)
	}
	if c.MinSpeechFrames != 1 || c.HangoverFrames != 1 {
		t.Fatalf("frame counts not clamped: %+v", c)
	}
	if c.ThresholdOff > c.ThresholdOn {
		t.Fatalf("off threshold above on threshold: %+v", c)
	}
}
