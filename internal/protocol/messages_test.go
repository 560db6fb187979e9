package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/larsmk/hark/internal/recognizer"
)

func TestParseHandshake(t *testing.T) {
	h, err := ParseHandshake([]byte(`{"lang":"en","prompt":"meeting notes"}`))
	if err != nil {
		t.Fatalf("ParseHandshake() error = %v", err)
	}
	if h.Lang != "en" || h.Prompt != "meeting notes" {
		t.Fatalf("handshake = %+v", h)
	}
}

func TestParseHandshakeEmptyFieldsMeanAuto(t *testing.T) {
	h, err := ParseHandshake([]byte(`{"lang":"","prompt":""}`))
	if err != nil {
		t.Fatalf("ParseHandshake() error = %v", err)
	}
	if h.Lang != "" || h.Prompt != "" {
		t.Fatalf("handshake = %+v, want empty fields", h)
	}
}

func TestParseHandshakeMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`[1,2,3]`,
		`{"lang":7}`,
		`{"prompt":{}}`,
		"\xff\xfe",
	} {
		if _, err := ParseHandshake([]byte(raw)); !errors.Is(err, ErrBadHandshake) {
			t.Fatalf("ParseHandshake(%q) error = %v, want ErrBadHandshake", raw, err)
		}
	}
}

func TestVADResultWireShape(t *testing.T) {
	msg := NewSpeechStart(3, "sp-1", 4096, 12.5)
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m["type"] != "vad_result" {
		t.Fatalf("type = %v", m["type"])
	}
	if m["speech_detected"] != true || m["speech_ended"] != false {
		t.Fatalf("flags = %v / %v", m["speech_detected"], m["speech_ended"])
	}

	end := NewSpeechEnd(3, "sp-1", 4096, 13.0)
	if end.SpeechDetected || !end.SpeechEnded {
		t.Fatalf("end flags = %+v", end)
	}
}

func TestRecognitionResultSuccessShape(t *testing.T) {
	res := recognizer.Result{
		Text:     "hello world",
		Language: "en",
		Segments: []recognizer.Segment{{Start: 0, End: 1.5, Text: "hello world"}},
	}
	raw, err := json.Marshal(NewRecognitionResult(9, "sp-2", res, 1.0))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m struct {
		Type   string `json:"type"`
		Result struct {
			Text     string `json:"text"`
			Language string `json:"language"`
			Segments []struct {
				Start float64 `json:"start"`
				End   float64 `json:"end"`
				Text  string  `json:"text"`
			} `json:"segments"`
			Err *struct{} `json:"error"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m.Type != "recognition_result" || m.Result.Text != "hello world" {
		t.Fatalf("wire form = %s", raw)
	}
	if len(m.Result.Segments) != 1 || m.Result.Segments[0].End != 1.5 {
		t.Fatalf("segments = %s", raw)
	}
	if m.Result.Err != nil {
		t.Fatalf("success result carries error: %s", raw)
	}
}

func TestErrorResultShape(t *testing.T) {
	raw, err := json.Marshal(ErrorResult(9, "", "Overloaded", "queue full", 2.0))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m struct {
		Result struct {
			Text string `json:"text"`
			Err  *struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m.Result.Err == nil || m.Result.Err.Kind != "Overloaded" {
		t.Fatalf("wire form = %s", raw)
	}
	if m.Result.Text != "" {
		t.Fatalf("error result carries text: %s", raw)
	}
}
