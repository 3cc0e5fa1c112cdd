package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

const (
	DefaultURL                = "wss://api.x.ai/v1/realtime"
	DefaultVoice              = "tara"
	DefaultSampleRate         = 24000
	DefaultTranscriptionModel = "grok-2-public"
	DefaultGreeting           = "Greet me briefly."

	// ContextPrefix marks system messages that carry canvas state.
	ContextPrefix = "[Canvas Update] "
)

var ErrClosed = errors.New("realtime: connection closed")

type Config struct {
	URL                string
	APIKey             string
	Voice              string
	Instructions       string
	Tools              []toolcall.Declaration
	SampleRate         int
	TranscriptionModel string
	// Greeting is sent as a user message once the session is ready. Set SkipGreeting
	// to start silent.
	Greeting     string
	SkipGreeting bool
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

// Client is one realtime voice connection. Events arrive on Events until the
// connection ends, after which Err reports why.
type Client struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	events chan Event
	ready  chan struct{}
	done   chan struct{}

	writeMu   sync.Mutex
	closed    atomic.Bool
	readyFlag atomic.Bool
	readyOnce sync.Once

	errMu sync.Mutex
	err   error

	// Read loop only.
	pendingCall *FunctionCall
	pendingArgs strings.Builder
	tutorSpeech strings.Builder
}

// Dial connects to the realtime endpoint. The handshake continues in the
// background; use WaitReady or watch for a Ready event.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("realtime: api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = DefaultTranscriptionModel
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if len(body) > 0 {
				return nil, fmt.Errorf("realtime connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("realtime connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime connect: %w", err)
	}

	c := &Client{
		conn:   conn,
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan Event, 256),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the event channel. It is closed when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err returns the error that ended the connection, or nil for a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// WaitReady blocks until the session is configured or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.setErr(fmt.Errorf("realtime read: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("realtime message unparseable", "error", err)
			continue
		}
		if err := c.handle(msg); err != nil {
			if !c.closed.Load() {
				c.setErr(err)
			}
			return
		}
	}
}

func (c *Client) handle(msg serverMessage) error {
	if msg.Type != typeAudioDelta {
		c.logger.Debug("realtime event", "type", msg.Type)
	}

	switch msg.Type {
	case typeConversationCreated:
		return c.configure()

	case typeSessionUpdated:
		first := false
		c.readyOnce.Do(func() {
			first = true
			c.readyFlag.Store(true)
			close(c.ready)
		})
		if !first {
			return nil
		}
		if err := c.greet(); err != nil {
			return err
		}
		c.emit(Ready{})

	case typeSpeechStarted:
		c.emit(SpeechStarted{})
	case typeSpeechStopped:
		c.emit(SpeechStopped{})

	case typeInputTranscription:
		if text := strings.TrimSpace(msg.Transcript); text != "" {
			c.emit(Transcript{Role: RoleStudent, Text: text})
		}

	case typeResponseCreated:
		c.tutorSpeech.Reset()
		c.pendingCall = nil
		c.pendingArgs.Reset()
		c.emit(ResponseStarted{})

	case typeAudioDelta:
		if msg.Delta != "" {
			c.emit(AudioDelta{Audio: msg.Delta})
		}

	case typeAudioTranscriptDelta:
		c.tutorSpeech.WriteString(msg.Delta)

	case typeAudioTranscriptDone:
		text := strings.TrimSpace(c.tutorSpeech.String())
		if text == "" {
			text = strings.TrimSpace(msg.Transcript)
		}
		c.tutorSpeech.Reset()
		if text != "" {
			c.emit(Transcript{Role: RoleTutor, Text: text})
		}

	case typeOutputItemAdded:
		if msg.Item != nil && msg.Item.Type == "function_call" {
			c.pendingCall = &FunctionCall{CallID: msg.Item.CallID, Name: msg.Item.Name}
			c.pendingArgs.Reset()
		}

	case typeFunctionArgsDelta:
		c.pendingArgs.WriteString(msg.Delta)

	case typeFunctionArgsDone:
		call := FunctionCall{CallID: msg.CallID, Name: msg.Name}
		if c.pendingCall != nil {
			if call.CallID == "" {
				call.CallID = c.pendingCall.CallID
			}
			if call.Name == "" {
				call.Name = c.pendingCall.Name
			}
		}
		args := c.pendingArgs.String()
		if strings.TrimSpace(args) == "" {
			args = msg.Arguments
		}
		call.Arguments = json.RawMessage(args)
		c.pendingCall = nil
		c.pendingArgs.Reset()
		if call.CallID == "" || call.Name == "" {
			c.logger.Warn("realtime function call without id or name", "call_id", call.CallID, "tool", call.Name)
			return nil
		}
		c.emit(call)

	case typeResponseDone:
		c.emit(ResponseDone{})

	case typeError:
		e := Error{Code: "unknown", Message: "Unknown error"}
		if msg.Error != nil {
			if msg.Error.Code != "" {
				e.Code = msg.Error.Code
			}
			if msg.Error.Message != "" {
				e.Message = msg.Error.Message
			}
		}
		c.emit(e)
	}
	return nil
}

// emit delivers ev, blocking the read loop while the consumer catches up.
func (c *Client) emit(ev Event) {
	c.events <- ev
}

func (c *Client) configure() error {
	session := sessionConfig{
		Instructions:       c.cfg.Instructions,
		Voice:              c.cfg.Voice,
		TurnDetection:      typed{Type: "server_vad"},
		InputTranscription: modelRef{Model: c.cfg.TranscriptionModel},
	}
	format := audioFormat{Type: "audio/pcm", Rate: c.cfg.SampleRate}
	session.Audio.Input.Format = format
	session.Audio.Output.Format = format
	if len(c.cfg.Tools) > 0 {
		session.Tools = c.cfg.Tools
	}
	return c.send(map[string]any{"type": typeSessionUpdate, "session": session})
}

func (c *Client) greet() error {
	if err := c.send(map[string]any{"type": typeAudioCommit}); err != nil {
		return err
	}
	if c.cfg.SkipGreeting {
		return nil
	}
	if err := c.SendText(c.cfg.Greeting); err != nil {
		return err
	}
	return c.RequestResponse()
}

func (c *Client) send(v any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime write: %w", err)
	}
	return nil
}

// SendAudio appends base64 PCM16 to the input buffer. Audio sent before the
// session is ready is dropped.
func (c *Client) SendAudio(audio string) error {
	if !c.readyFlag.Load() {
		return nil
	}
	return c.send(map[string]any{"type": typeAudioAppend, "audio": audio})
}

func (c *Client) CommitAudio() error {
	return c.send(map[string]any{"type": typeAudioCommit})
}

// ClearAudio discards input audio that has not been committed.
func (c *Client) ClearAudio() error {
	return c.send(map[string]any{"type": typeAudioClear})
}

// SendText adds a user text message to the conversation.
func (c *Client) SendText(text string) error {
	return c.sendMessage("user", text)
}

// InjectContext adds canvas state as a system message.
func (c *Client) InjectContext(text string) error {
	return c.sendMessage("system", ContextPrefix+text)
}

func (c *Client) sendMessage(role, text string) error {
	return c.send(map[string]any{
		"type": typeItemCreate,
		"item": conversationItem{
			Type:    "message",
			Role:    role,
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	})
}

func (c *Client) RequestResponse() error {
	return c.send(map[string]any{"type": typeResponseCreate})
}

func (c *Client) CancelResponse() error {
	return c.send(map[string]any{"type": typeResponseCancel})
}

// SendFunctionResult returns a tool result. requestResponse asks the model to reply;
// only the last result of a batch should set it.
func (c *Client) SendFunctionResult(callID, output string, requestResponse bool) error {
	if err := c.send(map[string]any{
		"type": typeItemCreate,
		"item": conversationItem{Type: "function_call_output", CallID: callID, Output: output},
	}); err != nil {
		return err
	}
	if !requestResponse {
		return nil
	}
	return c.RequestResponse()
}

// Close ends the connection. The events channel closes once the read loop exits.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	go func() {
		// Unblock a read loop stuck in emit.
		for range c.events {
		}
	}()
	return err
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
