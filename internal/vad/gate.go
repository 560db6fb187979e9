package vad

import (
	"fmt"
	"time"

	"github.com/larsmk/hark/internal/audio"
)

// Tuning holds the endpointing parameters. Values are clamped on update so
// an admin mutation can never wedge the state machine.
type Tuning struct {
	ThresholdOn       float64       `json:"threshold_on"`
	ThresholdOff      float64       `json:"threshold_off"`
	MinSpeechFrames   int           `json:"min_speech_frames"`
	HangoverFrames    int           `json:"hangover_frames"`
	PreRoll           time.Duration `json:"-"`
	MinSpeechDuration time.Duration `json:"-"`
	MaxSpeechDuration time.Duration `json:"-"`
}

// DefaultTuning returns the stock endpointing parameters: hysteresis at
// 0.5/0.35, two-frame debounce, ~512 ms hangover and pre-roll, 30 s cap.
func DefaultTuning() Tuning {
	return Tuning{
		ThresholdOn:       0.5,
		ThresholdOff:      0.35,
		MinSpeechFrames:   2,
		HangoverFrames:    16,
		PreRoll:           512 * time.Millisecond,
		MinSpeechDuration: 250 * time.Millisecond,
		MaxSpeechDuration: 30 * time.Second,
	}
}

// Clamp coerces every field into its legal range, keeping ThresholdOff at
// or below ThresholdOn.
func (t Tuning) Clamp() Tuning {
	clampF := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	t.ThresholdOn = clampF(t.ThresholdOn, 0, 1)
	t.ThresholdOff = clampF(t.ThresholdOff, 0, t.ThresholdOn)
	if t.MinSpeechFrames < 1 {
		t.MinSpeechFrames = 1
	}
	if t.HangoverFrames < 1 {
		t.HangoverFrames = 1
	}
	if t.PreRoll < 0 {
		t.PreRoll = 0
	}
	if t.MinSpeechDuration < 0 {
		t.MinSpeechDuration = 0
	}
	if t.MaxSpeechDuration < 100*time.Millisecond {
		t.MaxSpeechDuration = 100 * time.Millisecond
	}
	return t
}

func samplesFor(d time.Duration) int {
	return int(d * audio.SampleRate / time.Second)
}

// RingCapacity returns the sample capacity a session ring needs so that an
// utterance start mark can never expire before the seal: the full maximum
// utterance plus pre-roll plus the hangover window.
func (t Tuning) RingCapacity() int {
	return samplesFor(t.MaxSpeechDuration) + samplesFor(t.PreRoll) +
		(t.HangoverFrames+1)*audio.FrameSize
}

// EventType labels gate transitions.
type EventType int

const (
	SpeechStart EventType = iota
	SpeechEnd
)

// Event is a voice-activity transition emitted by the gate.
type Event struct {
	Type        EventType
	Probability float64
	BufferSize  int // ring fill at event time, reported on the wire
}

// Utterance is a sealed speech segment: pre-roll, speech, and hangover, in
// strict time order. Once returned by the gate it is immutable and owned by
// the caller.
type Utterance struct {
	Samples []float32
}

// Duration returns the utterance length at the canonical sample rate.
func (u Utterance) Duration() time.Duration {
	return time.Duration(len(u.Samples)) * time.Second / audio.SampleRate
}

// Gate drives the silence/speech state machine over a per-session
// probability stream and demarcates utterances in the session ring.
//
// The two thresholds give hysteresis so borderline frames don't flap the
// state; pre-roll keeps the consonant that precedes the trigger and the
// hangover keeps trailing fricatives.
type Gate struct {
	tuning Tuning
	ring   *audio.Ring
	stream Stream

	inSpeech   bool
	speechRun  int
	silenceRun int
	startMark  audio.Mark
}

// NewGate builds a gate around a session-owned ring and detector stream.
func NewGate(tuning Tuning, ring *audio.Ring, stream Stream) *Gate {
	return &Gate{tuning: tuning.Clamp(), ring: ring, stream: stream}
}

// Active reports whether the gate is currently inside an utterance.
func (g *Gate) Active() bool { return g.inSpeech }

// Feed appends one frame to the ring, scores it, and advances the state
// machine. It returns the transitions the frame caused and, on SpeechEnd,
// the sealed utterance. Utterances shorter than MinSpeechDuration are
// dropped after the SpeechEnd event, matching the reference behavior of
// skipping recognition for blips.
func (g *Gate) Feed(frame []float32) ([]Event, *Utterance, error) {
	g.ring.Append(frame)

	p, err := g.stream.Process(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("vad: score frame: %w", err)
	}

	if !g.inSpeech {
		if p >= g.tuning.ThresholdOn {
			g.speechRun++
		} else {
			g.speechRun = 0
		}
		if g.speechRun < g.tuning.MinSpeechFrames {
			return nil, nil, nil
		}
		// Mark the utterance start pre-roll samples before the first frame
		// of the debounce run.
		back := samplesFor(g.tuning.PreRoll) + g.speechRun*audio.FrameSize
		g.startMark = g.ring.MarkBack(back)
		g.inSpeech = true
		g.speechRun = 0
		g.silenceRun = 0
		return []Event{{Type: SpeechStart, Probability: p, BufferSize: g.ring.Len()}}, nil, nil
	}

	if p < g.tuning.ThresholdOff {
		g.silenceRun++
	} else {
		g.silenceRun = 0
	}

	length := int(uint64(g.ring.Head()) - uint64(g.startMark))
	if g.silenceRun >= g.tuning.HangoverFrames || length >= samplesFor(g.tuning.MaxSpeechDuration) {
		return g.seal(p)
	}
	return nil, nil, nil
}

func (g *Gate) seal(p float64) ([]Event, *Utterance, error) {
	samples, err := g.ring.Since(g.startMark)
	g.inSpeech = false
	g.speechRun = 0
	g.silenceRun = 0
	if err != nil {
		return nil, nil, fmt.Errorf("vad: seal utterance: %w", err)
	}

	events := []Event{{Type: SpeechEnd, Probability: p, BufferSize: g.ring.Len()}}
	if len(samples) < samplesFor(g.tuning.MinSpeechDuration) {
		return events, nil, nil
	}
	if max := samplesFor(g.tuning.MaxSpeechDuration) + samplesFor(g.tuning.PreRoll); len(samples) > max {
		samples = samples[:max]
	}
	return events, &Utterance{Samples: samples}, nil
}
