package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

type fakeUpstream struct {
	t        *testing.T
	received chan map[string]any
	conn     chan *websocket.Conn
	auth     chan string
}

func newFakeUpstream(t *testing.T) (*fakeUpstream, *httptest.Server) {
	t.Helper()
	f := &fakeUpstream{
		t:        t,
		received: make(chan map[string]any, 64),
		conn:     make(chan *websocket.Conn, 1),
		auth:     make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.conn <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Errorf("client sent invalid json: %v", err)
				return
			}
			f.received <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeUpstream) next() map[string]any {
	f.t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		f.t.Fatalf("timed out waiting for client message")
		return nil
	}
}

func (f *fakeUpstream) expect(typ string) map[string]any {
	f.t.Helper()
	msg := f.next()
	if msg["type"] != typ {
		f.t.Fatalf("client message type=%v, want %s (msg=%v)", msg["type"], typ, msg)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("events closed early: %v", c.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func dialTest(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	if cfg.APIKey == "" {
		cfg.APIKey = "xai-test"
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func handshake(t *testing.T, f *fakeUpstream, c *Client) *websocket.Conn {
	t.Helper()
	conn := <-f.conn
	send(t, conn, `{"type":"conversation.created"}`)
	f.expect("session.update")
	send(t, conn, `{"type":"session.updated"}`)
	f.expect("input_audio_buffer.commit")
	f.expect("conversation.item.create")
	f.expect("response.create")
	if _, ok := nextEvent(t, c).(Ready); !ok {
		t.Fatalf("expected Ready event")
	}
	return conn
}

func TestDial_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestClient_HandshakeConfiguresSession(t *testing.T) {
	t.Parallel()

	f, srv := newFakeUpstream(t)
	decls, err := toolcall.Declarations()
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}
	c := dialTest(t, srv, Config{Instructions: "be kind", Tools: decls})

	if auth := <-f.auth; auth != "Bearer xai-test" {
		t.Fatalf("authorization=%q", auth)
	}
	conn := <-f.conn
	send(t, conn, `{"type":"conversation.created"}`)

	update := f.expect("session.update")
	session, _ := update["session"].(map[string]any)
	if session["instructions"] != "be kind" || session["voice"] != DefaultVoice {
		t.Fatalf("session=%v", session)
	}
	if td, _ := session["turn_detection"].(map[string]any); td["type"] != "server_vad" {
		t.Fatalf("turn_detection=%v", session["turn_detection"])
	}
	audio, _ := session["audio"].(map[string]any)
	in, _ := audio["input"].(map[string]any)
	format, _ := in["format"].(map[string]any)
	if format["type"] != "audio/pcm" || format["rate"] != float64(DefaultSampleRate) {
		t.Fatalf("input format=%v", format)
	}
	tools, _ := session["tools"].([]any)
	if len(tools) != len(decls) {
		t.Fatalf("tools=%d, want %d", len(tools), len(decls))
	}

	if err := c.SendAudio("AAAA"); err != nil {
		t.Fatalf("SendAudio before ready: %v", err)
	}

	send(t, conn, `{"type":"session.updated"}`)
	f.expect("input_audio_buffer.commit")
	greeting := f.expect("conversation.item.create")
	item, _ := greeting["item"].(map[string]any)
	content, _ := item["content"].([]any)
	part, _ := content[0].(map[string]any)
	if item["role"] != "user" || part["text"] != DefaultGreeting {
		t.Fatalf("greeting item=%v", item)
	}
	f.expect("response.create")
	if _, ok := nextEvent(t, c).(Ready); !ok {
		t.Fatalf("expected Ready event")
	}
	if !c.readyFlag.Load() {
		t.Fatalf("client not ready after session.updated")
	}

	// Audio sent before ready was dropped, so the first append is this one.
	if err := c.SendAudio("BBBB"); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	appendMsg := f.expect("input_audio_buffer.append")
	if appendMsg["audio"] != "BBBB" {
		t.Fatalf("audio=%v, want BBBB", appendMsg["audio"])
	}

	if err := c.ClearAudio(); err != nil {
		t.Fatalf("ClearAudio: %v", err)
	}
	f.expect("input_audio_buffer.clear")
}

func TestClient_EventsFromServer(t *testing.T) {
	t.Parallel()

	f, srv := newFakeUpstream(t)
	c := dialTest(t, srv, Config{})
	conn := handshake(t, f, c)

	send(t, conn, `{"type":"input_audio_buffer.speech_started"}`)
	send(t, conn, `{"type":"input_audio_buffer.speech_stopped"}`)
	send(t, conn, `{"type":"conversation.item.input_audio_transcription.completed","transcript":" what is 2x=8? "}`)
	send(t, conn, `{"type":"response.created"}`)
	send(t, conn, `{"type":"response.output_audio.delta","delta":"UENN"}`)
	send(t, conn, `{"type":"response.output_audio_transcript.delta","delta":"Let's "}`)
	send(t, conn, `{"type":"response.output_audio_transcript.delta","delta":"divide."}`)
	send(t, conn, `{"type":"response.output_audio_transcript.done"}`)
	send(t, conn, `{"type":"response.output_item.added","item":{"type":"function_call","call_id":"call_1","name":"draw_text"}}`)
	send(t, conn, `{"type":"response.function_call_arguments.delta","delta":"{\"items\":"}`)
	send(t, conn, `{"type":"response.function_call_arguments.delta","delta":"[{\"text\":\"x=4\"}]}"}`)
	send(t, conn, `{"type":"response.function_call_arguments.done"}`)
	send(t, conn, `{"type":"response.done"}`)
	send(t, conn, `{"type":"error","error":{"code":"rate_limited","message":"slow down"}}`)

	if _, ok := nextEvent(t, c).(SpeechStarted); !ok {
		t.Fatalf("want SpeechStarted")
	}
	if _, ok := nextEvent(t, c).(SpeechStopped); !ok {
		t.Fatalf("want SpeechStopped")
	}
	if tr, ok := nextEvent(t, c).(Transcript); !ok || tr.Role != RoleStudent || tr.Text != "what is 2x=8?" {
		t.Fatalf("student transcript=%+v", tr)
	}
	if _, ok := nextEvent(t, c).(ResponseStarted); !ok {
		t.Fatalf("want ResponseStarted")
	}
	if a, ok := nextEvent(t, c).(AudioDelta); !ok || a.Audio != "UENN" {
		t.Fatalf("audio=%+v", a)
	}
	if tr, ok := nextEvent(t, c).(Transcript); !ok || tr.Role != RoleTutor || tr.Text != "Let's divide." {
		t.Fatalf("tutor transcript=%+v", tr)
	}
	call, ok := nextEvent(t, c).(FunctionCall)
	if !ok || call.CallID != "call_1" || call.Name != "draw_text" {
		t.Fatalf("call=%+v", call)
	}
	args, err := toolcall.ParseArguments(call.Arguments)
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if items := toolcall.DrawText(args).Items; len(items) != 1 || items[0].Text != "x=4" {
		t.Fatalf("items=%+v", items)
	}
	if _, ok := nextEvent(t, c).(ResponseDone); !ok {
		t.Fatalf("want ResponseDone")
	}
	if e, ok := nextEvent(t, c).(Error); !ok || e.Code != "rate_limited" || e.Message != "slow down" {
		t.Fatalf("error=%+v", e)
	}
}

func TestClient_FunctionResultAndContext(t *testing.T) {
	t.Parallel()

	f, srv := newFakeUpstream(t)
	c := dialTest(t, srv, Config{})
	handshake(t, f, c)

	if err := c.SendFunctionResult("call_1", "drew it", false); err != nil {
		t.Fatalf("SendFunctionResult: %v", err)
	}
	out := f.expect("conversation.item.create")
	item, _ := out["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" || item["output"] != "drew it" {
		t.Fatalf("item=%v", item)
	}

	if err := c.SendFunctionResult("call_2", "done", true); err != nil {
		t.Fatalf("SendFunctionResult: %v", err)
	}
	f.expect("conversation.item.create")
	f.expect("response.create")

	if err := c.InjectContext("Canvas is empty."); err != nil {
		t.Fatalf("InjectContext: %v", err)
	}
	ctxMsg := f.expect("conversation.item.create")
	item, _ = ctxMsg["item"].(map[string]any)
	content, _ := item["content"].([]any)
	part, _ := content[0].(map[string]any)
	if item["role"] != "system" || part["text"] != "[Canvas Update] Canvas is empty." {
		t.Fatalf("context item=%v", item)
	}

	if err := c.CancelResponse(); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}
	f.expect("response.cancel")
}

func TestClient_ServerCloseEndsEvents(t *testing.T) {
	t.Parallel()

	f, srv := newFakeUpstream(t)
	c := dialTest(t, srv, Config{})
	conn := <-f.conn
	_ = conn.Close()

	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatalf("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel not closed")
	}
	if c.Err() == nil {
		t.Fatalf("expected read error after abrupt close")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err == nil {
		t.Fatalf("WaitReady should fail after close")
	}
}
