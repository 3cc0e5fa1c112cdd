// Package session runs one tutoring conversation: it bridges the browser websocket
// and the realtime voice upstream, and executes the tutor's canvas tools.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-tutor/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-tutor/pkg/tutor/analysis"
	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
	"github.com/vango-go/vai-tutor/pkg/tutor/realtime"
	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

var (
	errBackpressure = errors.New("outbound queue full")
	errUpstreamGone = errors.New("upstream connection ended")
)

const (
	defaultOutboundQueueSize = 256
	defaultReadyTimeout      = 10 * time.Second
)

// Upstream is the realtime voice connection a session drives.
type Upstream interface {
	Events() <-chan realtime.Event
	Err() error
	WaitReady(ctx context.Context) error
	SendAudio(audio string) error
	CommitAudio() error
	ClearAudio() error
	SendText(text string) error
	InjectContext(text string) error
	RequestResponse() error
	CancelResponse() error
	SendFunctionResult(callID, output string, requestResponse bool) error
	Close() error
}

type wsConn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type Config struct {
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	// ReadTimeout bounds client silence; each pong pushes the deadline out again.
	ReadTimeout       time.Duration
	MaxMessageBytes   int64
	OutboundQueueSize int
	ReadyTimeout      time.Duration
	// AnalyzeOnSnapshot runs a background analysis on every CANVAS_UPDATE and
	// injects the result as context.
	AnalyzeOnSnapshot bool
}

type Dependencies struct {
	Conn        wsConn
	Upstream    Upstream
	State       *sessions.State
	Coordinator *analysis.Coordinator
	Transformer *canvas.Transformer
	Logger      *slog.Logger
	RequestID   string
	Config      Config
}

// Session is one live tutoring connection.
type Session struct {
	conn        wsConn
	upstream    Upstream
	state       *sessions.State
	coordinator *analysis.Coordinator
	transformer canvas.Transformer
	cursor      *canvas.Cursor
	seq         *toolcall.Sequencer
	logger      *slog.Logger
	cfg         Config

	ctx    context.Context
	cancel context.CancelFunc

	control chan []byte
	audio   chan []byte

	markerActive atomic.Bool
	droppedAudio atomic.Int64
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("session state is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = defaultOutboundQueueSize
	}
	if deps.Config.ReadyTimeout <= 0 {
		deps.Config.ReadyTimeout = defaultReadyTimeout
	}
	if deps.Coordinator == nil {
		deps.Coordinator = analysis.NewCoordinator(nil, analysis.Config{Logger: deps.Logger})
	}
	transformer := canvas.NewTransformer()
	if deps.Transformer != nil {
		transformer = *deps.Transformer
	}

	logger := deps.Logger.With("session_id", deps.State.ID)
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:        deps.Conn,
		upstream:    deps.Upstream,
		state:       deps.State,
		coordinator: deps.Coordinator,
		transformer: transformer,
		cursor:      canvas.NewCursor(),
		logger:      logger,
		cfg:         deps.Config,
		ctx:         ctx,
		cancel:      cancel,
		control:     make(chan []byte, deps.Config.OutboundQueueSize),
		audio:       make(chan []byte, deps.Config.OutboundQueueSize),
	}

	seq, err := toolcall.NewSequencer(toolcall.Config{
		Handlers:     s.toolHandlers(),
		Logger:       logger,
		OnUnanswered: s.requestReply,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.seq = seq
	return s, nil
}

// Run serves the session until the client disconnects, the upstream fails, or Cancel
// is called. It closes the upstream before returning.
func (s *Session) Run() error {
	defer s.cancel()
	defer s.upstream.Close()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	g, gctx := errgroup.WithContext(s.ctx)
	stop := context.AfterFunc(gctx, s.cancel)
	defer stop()

	g.Go(func() error {
		w := outboundWriter{
			ws:      s.conn,
			ctx:     gctx,
			cfg:     s.cfg,
			control: s.control,
			audio:   s.audio,
		}
		return w.Run()
	})
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.pumpEvents(gctx) })
	g.Go(func() error { return s.seq.Run(gctx) })
	g.Go(func() error { return s.awaitReady(gctx) })

	s.logger.Info("tutor session started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("tutor session ended", "error", err, "messages", s.state.MessageCount(), "dropped_audio", s.droppedAudio.Load())
	return err
}

// Cancel ends the session.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning sends an ERROR frame without blocking. It is used to notify sessions
// during shutdown.
func (s *Session) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(protocol.NewError(code, message))
	if err != nil {
		return err
	}
	select {
	case s.control <- payload:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Session) awaitReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()
	err := s.upstream.WaitReady(readyCtx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	s.logger.Error("tutor did not become ready", "error", err)
	_ = s.sendError(protocol.CodeSessionError, "Tutor is unavailable. Please try again.")
	return fmt.Errorf("upstream not ready: %w", err)
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Info("client disconnected")
				s.cancel()
				return nil
			}
			return fmt.Errorf("client read: %w", err)
		}
		s.state.Touch()
		if messageType != websocket.TextMessage {
			_ = s.sendError(protocol.CodeBadMessage, "binary frames are not supported")
			continue
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var unknown *protocol.UnknownTypeError
			if errors.As(err, &unknown) {
				s.logger.Debug("unknown client message ignored", "type", unknown.Type)
				continue
			}
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) {
				_ = s.sendError(decErr.Code, decErr.Message)
				continue
			}
			_ = s.sendError(protocol.CodeInvalidJSON, "Failed to parse message")
			continue
		}
		if err := s.handleClient(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return s.upstreamFailed(err)
		}
	}
}

func (s *Session) handleClient(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.VoiceStart:
		// A new utterance never continues audio left over from an abandoned one.
		if err := s.upstream.ClearAudio(); err != nil {
			return err
		}
		return s.sendVoiceState(protocol.VoiceListening)
	case protocol.VoiceAudio:
		if m.Audio == "" {
			return nil
		}
		return s.upstream.SendAudio(m.Audio)
	case protocol.VoiceEnd:
		return s.upstream.CommitAudio()
	case protocol.TextMessage:
		text := strings.TrimSpace(m.Text)
		if text == "" {
			return nil
		}
		if err := s.upstream.SendText(text); err != nil {
			return err
		}
		if err := s.upstream.RequestResponse(); err != nil {
			return err
		}
		s.state.RecordMessage(realtime.RoleStudent, text)
		return nil
	case protocol.CanvasUpdate:
		return s.applySnapshot(ctx, m.Snapshot())
	case protocol.CanvasChange:
		return s.applyChange(m)
	default:
		s.logger.Warn("unhandled client message", "type", fmt.Sprintf("%T", msg))
		return nil
	}
}

func (s *Session) applySnapshot(ctx context.Context, snap canvas.Snapshot) error {
	s.state.ReplaceCanvasSnapshot(snap)
	s.coordinator.Invalidate()
	s.cursor.Resync(snap.Shapes)

	if err := s.upstream.InjectContext(canvas.Summarize(snap.Shapes)); err != nil {
		return err
	}
	if s.cfg.AnalyzeOnSnapshot && snap.Screenshot != "" {
		if s.coordinator.InProgress() {
			s.logger.Debug("snapshot analysis skipped; one is already running")
		} else {
			go s.analyzeSnapshot(ctx, snap)
		}
	}
	return nil
}

// analyzeSnapshot runs detached from the session; its result is dropped if the
// session ends first.
func (s *Session) analyzeSnapshot(ctx context.Context, snap canvas.Snapshot) {
	out := s.coordinator.Request(context.WithoutCancel(ctx), analysis.Input{
		Image:       snap.Screenshot,
		ShapeCounts: canvas.CountByType(snap.Shapes),
	})
	if ctx.Err() != nil || out.Kind != analysis.Fresh || out.Degraded {
		return
	}
	if err := s.upstream.InjectContext("Visual analysis: " + out.Text); err != nil {
		s.logger.Warn("analysis context injection failed", "error", err)
	}
}

func (s *Session) applyChange(m protocol.CanvasChange) error {
	s.coordinator.Invalidate()
	touched := make([]canvas.Shape, 0, len(m.Added)+len(m.Modified))
	touched = append(touched, m.Added...)
	touched = append(touched, m.Modified...)
	s.cursor.Resync(touched)

	desc := canvas.DescribeChanges(m.Added, m.Modified, m.Deleted)
	if desc == canvas.NoChanges {
		return nil
	}
	return s.upstream.InjectContext(desc)
}

func (s *Session) pumpEvents(ctx context.Context) error {
	events := s.upstream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				err := s.upstream.Err()
				if err == nil {
					err = errUpstreamGone
				}
				return s.upstreamFailed(err)
			}
			if err := s.handleEvent(ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (s *Session) handleEvent(ev realtime.Event) error {
	switch e := ev.(type) {
	case realtime.Ready:
		s.logger.Info("tutor ready")
		return nil
	case realtime.SpeechStarted:
		return s.sendVoiceState(protocol.VoiceListening)
	case realtime.SpeechStopped:
		if err := s.sendVoiceState(protocol.VoiceProcessing); err != nil {
			return err
		}
		return s.sendStatus(protocol.StatusThinking)
	case realtime.ResponseStarted:
		return s.sendVoiceState(protocol.VoiceSpeaking)
	case realtime.ResponseDone:
		return s.sendVoiceState(protocol.VoiceIdle)
	case realtime.Transcript:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return nil
		}
		s.state.RecordMessage(e.Role, text)
		return s.sendControl(protocol.NewTranscript(e.Role, text))
	case realtime.AudioDelta:
		s.sendAudio(e.Audio)
		return nil
	case realtime.FunctionCall:
		args, err := toolcall.ParseArguments(e.Arguments)
		if err != nil {
			s.logger.Warn("tool arguments unparseable", "tool", e.Name, "call_id", e.CallID, "error", err)
		}
		req := toolcall.NewRequest(e.CallID, e.Name, args)
		if req.Kind == toolcall.KindCheckWork {
			// Stop the tutor talking now, not when the queue reaches this call.
			if err := s.upstream.CancelResponse(); err != nil {
				s.logger.Warn("response cancel failed", "call_id", e.CallID, "error", err)
			}
		}
		s.seq.Enqueue(req)
		return nil
	case realtime.Error:
		s.logger.Warn("upstream error event", "code", e.Code, "message", e.Message)
		msg := e.Message
		if msg == "" {
			msg = "The tutor reported an error."
		}
		return s.sendError(protocol.CodeUpstream, msg)
	default:
		s.logger.Debug("upstream event ignored", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

// upstreamFailed reports a transport failure to the client and returns the error
// that tears the session down.
func (s *Session) upstreamFailed(err error) error {
	s.logger.Error("upstream failure", "error", err)
	_ = s.sendError(protocol.CodeSessionError, "Lost connection to the tutor.")
	return fmt.Errorf("upstream: %w", err)
}

func (s *Session) requestReply(context.Context) {
	if err := s.upstream.RequestResponse(); err != nil {
		s.logger.Warn("reply request failed", "error", err)
	}
}

func (s *Session) sendVoiceState(state protocol.VoiceState) error {
	return s.sendControl(protocol.NewVoiceState(state))
}

func (s *Session) sendStatus(status protocol.TutorStatus) error {
	return s.sendControl(protocol.NewTutorStatus(status))
}

func (s *Session) sendError(code, message string) error {
	return s.sendControl(protocol.NewError(code, message))
}

func (s *Session) sendCommand(cmd protocol.Command) error {
	return s.sendControl(protocol.NewCanvasCommand(cmd))
}

// sendControl queues an ordered frame, waiting for room. It fails only once the
// session is over.
func (s *Session) sendControl(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.control <- payload:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// sendAudio queues model audio, dropping it when the client falls behind.
func (s *Session) sendAudio(audio string) {
	if audio == "" {
		return
	}
	payload, err := json.Marshal(protocol.NewVoiceAudio(audio))
	if err != nil {
		return
	}
	select {
	case s.audio <- payload:
	default:
		if n := s.droppedAudio.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("audio dropped", "error", errBackpressure, "dropped", n)
		}
	}
}
