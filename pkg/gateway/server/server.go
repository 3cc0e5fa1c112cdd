package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-tutor/pkg/gateway/config"
	"github.com/vango-go/vai-tutor/pkg/gateway/handlers"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-tutor/pkg/gateway/mw"
	"github.com/vango-go/vai-tutor/pkg/tutor/analysis"
	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

// Deps are the process-wide collaborators shared by every request.
type Deps struct {
	Store *sessions.Store
	// Analyzer may be nil, in which case check_work degrades to shape counts.
	Analyzer analysis.Analyzer
	Tools    []toolcall.Declaration
	// Dial overrides the realtime dialer; nil uses handlers.DialRealtime.
	Dial    handlers.UpstreamDialer
	Version string
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = sessions.NewStore(sessions.StoreConfig{MaxSessions: cfg.MaxSessions, Logger: logger})
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/{$}", handlers.InfoHandler{Version: s.deps.Version})
	s.mux.Handle("/health", handlers.StatusHandler{Config: s.cfg})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Store: s.deps.Store})

	s.mux.Handle("/ws", handlers.TutorHandler{
		Config:   s.cfg,
		Store:    s.deps.Store,
		Analyzer: s.deps.Analyzer,
		Tools:    s.deps.Tools,
		Dial:     s.deps.Dial,
		Logger:   s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Store returns the session store the websocket handler registers into.
func (s *Server) Store() *sessions.Store {
	return s.deps.Store
}

// SetDraining stops new sessions and flips /readyz.
func (s *Server) SetDraining() {
	s.deps.Store.SetDraining(true)
}

// WarnLiveSessionsDraining tells connected students the server is going away.
func (s *Server) WarnLiveSessionsDraining() int {
	return s.deps.Store.WarnAll(protocol.CodeShuttingDown, "The tutor is restarting. Please reconnect in a moment.")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.deps.Store.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.deps.Store.CancelAll()
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
