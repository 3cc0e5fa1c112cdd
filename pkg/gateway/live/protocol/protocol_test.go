package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
)

func TestDecodeClientMessage_CanvasUpdate(t *testing.T) {
	raw := []byte(`{
		"type":"CANVAS_UPDATE",
		"shapes":[{"id":"shape:a","type":"text","x":100,"y":120,"props":{"text":"2x = 8","size":"m"}}],
		"summary":"one text",
		"screenshot":"data:image/png;base64,AAAA",
		"bounds":{"x":50,"y":80,"width":400,"height":300,"padding":10}
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	update, ok := msg.(CanvasUpdate)
	if !ok {
		t.Fatalf("decoded type = %T, want CanvasUpdate", msg)
	}
	if len(update.Shapes) != 1 || update.Shapes[0].PropString("text") != "2x = 8" {
		t.Fatalf("shapes=%+v", update.Shapes)
	}
	snap := update.Snapshot()
	if snap.Bounds == nil || snap.Bounds.Padding != 10 || snap.Bounds.X != 50 {
		t.Fatalf("bounds=%+v", snap.Bounds)
	}
}

func TestDecodeClientMessage_VoiceFrames(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"type":"VOICE_START"}`, VoiceStart{Type: TypeVoiceStart}},
		{`{"type":"VOICE_END"}`, VoiceEnd{Type: TypeVoiceEnd}},
		{`{"type":"VOICE_AUDIO","audio":"AAAA"}`, VoiceAudio{Type: TypeVoiceAudio, Audio: "AAAA"}},
		{`{"type":"TEXT_MESSAGE","text":"help"}`, TextMessage{Type: TypeTextMessage, Text: "help"}},
	}
	for _, tc := range cases {
		got, err := DecodeClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s decoded %#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeClientMessage_CanvasChange(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"CANVAS_CHANGE","added":[{"id":"shape:b","type":"draw","x":1,"y":2}],"modified":[],"deleted":["shape:a"]}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	change := msg.(CanvasChange)
	if len(change.Added) != 1 || change.Added[0].Type != canvas.TypeDraw || len(change.Deleted) != 1 {
		t.Fatalf("change=%+v", change)
	}
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":`))
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != CodeInvalidJSON {
		t.Fatalf("code=%q", decErr.Code)
	}

	_, err = DecodeClientMessage([]byte(`{"type":"CANVAS_UPDATE","shapes":"nope"}`))
	if !errors.As(err, &decErr) || decErr.Code != CodeInvalidJSON {
		t.Fatalf("err=%v, want INVALID_JSON for wrong shape type", err)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"PING"}`))
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) || unknown.Type != "PING" {
		t.Fatalf("err=%v, want UnknownTypeError", err)
	}
}

func TestServerFrames_WireShape(t *testing.T) {
	shape := canvas.Shape{ID: "shape:1", Type: canvas.TypeText, X: 100, Y: 100, Props: map[string]any{"text": "x"}}
	blob, err := json.Marshal(NewCanvasCommand(AddAnimatedText(shape)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(blob)
	if !strings.Contains(s, `"type":"CANVAS_COMMAND"`) || !strings.Contains(s, `"action":"ADD_ANIMATED_TEXT"`) || !strings.Contains(s, `"id":"shape:1"`) {
		t.Fatalf("payload=%s", s)
	}

	blob, _ = json.Marshal(NewCanvasCommand(ClearCanvas()))
	if string(blob) != `{"type":"CANVAS_COMMAND","command":{"action":"CLEAR_CANVAS"}}` {
		t.Fatalf("clear payload=%s", blob)
	}

	blob, _ = json.Marshal(NewCanvasCommand(AttentionMarker(0, 40, "here")))
	if !strings.Contains(string(blob), `"x":0`) || !strings.Contains(string(blob), `"label":"here"`) {
		t.Fatalf("marker payload=%s", blob)
	}

	blob, _ = json.Marshal(NewVoiceState(VoiceSpeaking))
	if string(blob) != `{"type":"VOICE_STATE","state":"speaking"}` {
		t.Fatalf("voice state payload=%s", blob)
	}
}
