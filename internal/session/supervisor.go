package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/larsmk/hark/internal/archive"
	"github.com/larsmk/hark/internal/audio"
	"github.com/larsmk/hark/internal/audiolog"
	"github.com/larsmk/hark/internal/protocol"
	"github.com/larsmk/hark/internal/recognizer"
	"github.com/larsmk/hark/internal/vad"
)

// MessageKind distinguishes the two transport frame types.
type MessageKind int

const (
	TextMessage MessageKind = iota
	BinaryMessage
)

// Message is one inbound transport frame.
type Message struct {
	Kind MessageKind
	Data []byte
}

// ErrHandshake is returned by Run when the first client message is not a
// valid handshake; the transport closes with a protocol error.
var ErrHandshake = errors.New("session: bad handshake")

// Session is one connection's streaming pipeline. It owns its ring and
// utterance state exclusively and shares the pool, audit logger, and
// archive by reference.
type Session struct {
	id        int64
	mgr       *Manager
	cfg       Config
	tuning    vad.Tuning
	deps      Deps
	createdAt time.Time

	mu     sync.Mutex
	state  State
	lang   string
	prompt string
}

// ID returns the monotonically assigned session id.
func (s *Session) ID() int64 { return s.id }

// State returns the current input state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

type pendingResult struct {
	speechID    string
	ch          <-chan recognizer.Result
	duration    float64
	submittedAt time.Time
}

// Run drives the session until the socket closes, an end-mark drain
// completes, or ctx is cancelled. Inbound frames arrive on inbound in
// transport order; wire messages are sent on outbound and written by the
// connection's single writer.
func (s *Session) Run(ctx context.Context, inbound <-chan Message, outbound chan<- any) error {
	defer s.mgr.release(s)
	defer s.setState(StateClosed)

	started := time.Now()
	ts := func() float64 { return time.Since(started).Seconds() }

	send := func(v any) bool {
		select {
		case outbound <- v:
			if s.deps.Metrics != nil {
				s.deps.Metrics.WSMessages.WithLabelValues("outbound").Inc()
			}
			return true
		case <-ctx.Done():
			return false
		}
	}

	if err := s.handshake(ctx, inbound, send, ts); err != nil {
		return err
	}
	s.setState(StateListening)

	ring := audio.NewRing(s.tuning.RingCapacity())
	gate := vad.NewGate(s.tuning, ring, s.deps.Detector.NewStream())
	asm := audio.NewFrameAssembler(audio.FrameSize)
	endMarkBytes := int(s.cfg.EndMark/time.Second) * audio.SampleRate * 2

	var pending []pendingResult
	speechID := ""

	feed := func(frame []float32) {
		events, utt, err := gate.Feed(frame)
		if err != nil {
			log.Printf("session %d: vad: %v", s.id, err)
			return
		}
		for _, ev := range events {
			switch ev.Type {
			case vad.SpeechStart:
				speechID = uuid.NewString()
				send(protocol.NewSpeechStart(s.id, speechID, ev.BufferSize, ts()))
			case vad.SpeechEnd:
				send(protocol.NewSpeechEnd(s.id, speechID, ev.BufferSize, ts()))
			}
		}
		if utt != nil {
			if p, ok := s.dispatch(*utt, speechID, send, ts); ok {
				pending = append(pending, p)
			}
		}
		if !gate.Active() {
			speechID = ""
		}
		switch {
		case gate.Active():
			s.setState(StateSpeaking)
		case len(pending) > 0:
			// Shadow phase: transcribing, but still listening for the next
			// utterance.
			s.setState(StateTranscribing)
		default:
			s.setState(StateListening)
		}
	}

	for {
		var head <-chan recognizer.Result
		if len(pending) > 0 {
			head = pending[0].ch
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-head:
			p := pending[0]
			pending = pending[1:]
			s.deliver(ctx, p, res, send, ts)
			if len(pending) == 0 && !gate.Active() {
				s.setState(StateListening)
			}

		case msg, ok := <-inbound:
			if !ok {
				// Socket closed: any unsealed utterance is dropped and
				// dispatched results are discarded.
				if err := asm.Flush(); err != nil {
					log.Printf("session %d: %v", s.id, err)
				}
				return nil
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.WSMessages.WithLabelValues("inbound").Inc()
			}
			if msg.Kind != BinaryMessage {
				continue
			}
			if len(msg.Data) >= endMarkBytes && audio.IsSilence(msg.Data) {
				return s.drain(ctx, gate, feed, &pending, send, ts)
			}
			for _, frame := range asm.Push(msg.Data) {
				feed(frame)
			}
		}
	}
}

func (s *Session) handshake(ctx context.Context, inbound <-chan Message, send func(any) bool, ts func() float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case msg, ok := <-inbound:
		if !ok {
			return ErrHandshake
		}
		if msg.Kind != TextMessage {
			send(protocol.ErrorResult(s.id, "", protocol.KindBadHandshake, "first message must be a JSON handshake", ts()))
			return ErrHandshake
		}
		h, err := protocol.ParseHandshake(msg.Data)
		if err != nil {
			send(protocol.ErrorResult(s.id, "", protocol.KindBadHandshake, err.Error(), ts()))
			return ErrHandshake
		}
		s.mu.Lock()
		s.lang, s.prompt = h.Lang, h.Prompt
		s.mu.Unlock()
		return nil
	}
}

// dispatch moves a sealed utterance to the audit logger and the worker
// pool. On queue saturation the client gets an Overloaded result right
// away and the session stays open.
func (s *Session) dispatch(utt vad.Utterance, speechID string, send func(any) bool, ts func() float64) (pendingResult, bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.UtterancesSealed.Inc()
	}
	if s.deps.AudioLog != nil {
		s.deps.AudioLog.Submit(audiolog.Entry{
			SessionID: s.id,
			Samples:   utt.Samples,
			At:        time.Now().UTC(),
		})
	}

	s.mu.Lock()
	lang, prompt := s.lang, s.prompt
	s.mu.Unlock()

	ch, err := s.deps.Pool.Submit(recognizer.Job{
		SessionID: s.id,
		SpeechID:  speechID,
		Samples:   utt.Samples,
		Lang:      lang,
		Prompt:    prompt,
	})
	if err != nil {
		kind := recognizer.KindOverloaded
		if !errors.Is(err, recognizer.ErrOverloaded) {
			kind = recognizer.KindModelFailure
		}
		send(protocol.ErrorResult(s.id, speechID, kind, err.Error(), ts()))
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecognitionResults.WithLabelValues("rejected").Inc()
		}
		return pendingResult{}, false
	}
	return pendingResult{
		speechID:    speechID,
		ch:          ch,
		duration:    utt.Duration().Seconds(),
		submittedAt: time.Now(),
	}, true
}

// deliver emits one recognition result in sealed order and mirrors
// successful transcripts to the archive, best-effort.
func (s *Session) deliver(ctx context.Context, p pendingResult, res recognizer.Result, send func(any) bool, ts func() float64) {
	send(protocol.NewRecognitionResult(s.id, p.speechID, res, ts()))

	if s.deps.Metrics != nil {
		outcome := "ok"
		if res.Failed() {
			outcome = res.Err.Kind
		}
		s.deps.Metrics.RecognitionResults.WithLabelValues(outcome).Inc()
		s.deps.Metrics.ObserveRecognitionLatency(time.Since(p.submittedAt))
	}

	if s.deps.Archive != nil && !res.Failed() && res.Text != "" {
		rec := archive.Record{
			SessionID: s.id,
			SpeechID:  p.speechID,
			Language:  res.Language,
			Text:      res.Text,
			Duration:  p.duration,
		}
		if err := s.deps.Archive.Save(ctx, rec); err != nil {
			log.Printf("session %d: archive transcript: %v", s.id, err)
		}
	}
}

// drain handles the end-mark: seal any active utterance with synthetic
// silence, stop accepting samples, then wait up to DrainTimeout for the
// outstanding results before closing.
func (s *Session) drain(ctx context.Context, gate *vad.Gate, feed func([]float32), pending *[]pendingResult, send func(any) bool, ts func() float64) error {
	if gate.Active() {
		// The end-mark itself is silence; replay enough of it to run the
		// hangover out even with detector smoothing in the way.
		zero := make([]float32, audio.FrameSize)
		for i := 0; i < 2*s.tuning.HangoverFrames+8 && gate.Active(); i++ {
			feed(zero)
		}
	}

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()

	for len(*pending) > 0 {
		p := (*pending)[0]
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			log.Printf("session %d: drain timeout with %d results outstanding", s.id, len(*pending))
			return nil
		case res := <-p.ch:
			*pending = (*pending)[1:]
			s.deliver(ctx, p, res, send, ts)
		}
	}
	return nil
}
