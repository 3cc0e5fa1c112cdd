package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-tutor/pkg/gateway/apierror"
	"github.com/vango-go/vai-tutor/pkg/gateway/config"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/session"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-tutor/pkg/gateway/mw"
	"github.com/vango-go/vai-tutor/pkg/tutor/analysis"
	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
	"github.com/vango-go/vai-tutor/pkg/tutor/realtime"
	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

const upstreamDialTimeout = 15 * time.Second

// UpstreamDialer opens the realtime voice connection for one tutoring session.
type UpstreamDialer func(ctx context.Context, cfg realtime.Config) (session.Upstream, error)

// DialRealtime is the production UpstreamDialer.
func DialRealtime(ctx context.Context, cfg realtime.Config) (session.Upstream, error) {
	c, err := realtime.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TutorHandler serves /ws. Each connection gets its own realtime upstream, layout
// cursor and analysis coordinator; the canvas state lives in Store.
type TutorHandler struct {
	Config   config.Config
	Store    *sessions.Store
	Analyzer analysis.Analyzer
	Tools    []toolcall.Declaration
	Dial     UpstreamDialer
	Logger   *slog.Logger
}

func (h TutorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.TypeInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Store == nil {
		apierror.Write(w, http.StatusInternalServerError, &apierror.Error{Type: apierror.TypeAPI, Message: "session store is not configured", RequestID: reqID})
		return
	}
	if !originAllowed(h.Config, r) {
		apierror.Write(w, http.StatusForbidden, &apierror.Error{Type: apierror.TypePermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID})
		return
	}

	// Capacity and draining are checked before the upgrade so the client gets a
	// plain HTTP error.
	state, release, err := h.Store.Create(sessions.Handle{})
	if err != nil {
		apiErr, status := apierror.FromError(err, reqID)
		apierror.Write(w, status, apiErr)
		return
	}
	defer release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "request_id", reqID, "error", err)
		return
	}
	defer conn.Close()

	logger = logger.With("session_id", state.ID, "request_id", reqID)

	dial := h.Dial
	if dial == nil {
		dial = DialRealtime
	}
	dialCtx, cancelDial := context.WithTimeout(r.Context(), upstreamDialTimeout)
	upstream, err := dial(dialCtx, realtime.Config{
		URL:                h.Config.RealtimeURL,
		APIKey:             h.Config.XAIAPIKey,
		Voice:              h.Config.Voice,
		Instructions:       session.TutorInstructions,
		Tools:              h.Tools,
		SampleRate:         h.Config.RealtimeSampleRate,
		TranscriptionModel: h.Config.TranscriptionModel,
		Logger:             logger,
	})
	cancelDial()
	if err != nil {
		logger.Error("realtime dial failed", "error", err)
		writeWSError(conn, protocol.CodeSessionError, "Could not connect to the tutor. Please try again.")
		return
	}

	transformer := canvas.NewTransformer()
	transformer.BiasRatio = h.Config.CircleBiasRatio

	s, err := session.New(session.Dependencies{
		Conn:     conn,
		Upstream: upstream,
		State:    state,
		Coordinator: analysis.NewCoordinator(h.Analyzer, analysis.Config{
			Cooldown: h.Config.AnalysisCooldown,
			Timeout:  h.Config.AnalysisTimeout,
			Logger:   logger,
		}),
		Transformer: &transformer,
		Logger:      h.Logger,
		RequestID:   reqID,
		Config: session.Config{
			PingInterval:      h.Config.WSPingInterval,
			WriteTimeout:      h.Config.WSWriteTimeout,
			ReadTimeout:       h.Config.WSReadTimeout,
			MaxMessageBytes:   h.Config.WSMaxMessageBytes,
			OutboundQueueSize: h.Config.OutboundQueueSize,
			ReadyTimeout:      h.Config.ReadyTimeout,
			AnalyzeOnSnapshot: h.Config.AnalyzeOnSnapshot,
		},
	})
	if err != nil {
		_ = upstream.Close()
		logger.Error("session init failed", "error", err)
		writeWSError(conn, protocol.CodeSessionError, "Failed to start the tutoring session.")
		return
	}
	h.Store.Attach(state.ID, sessions.Handle{Cancel: s.Cancel, Warn: s.SendWarning})

	if err := s.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("tutor session ended with error", "error", err)
	}
}

func originAllowed(cfg config.Config, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := cfg.CORSAllowedOrigins[origin]
	return ok
}

func writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, message), time.Now().Add(2*time.Second))
}
