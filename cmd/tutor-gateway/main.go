package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vango-go/vai-tutor/internal/dotenv"
	"github.com/vango-go/vai-tutor/pkg/gateway/config"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/sessions"
	gatewayserver "github.com/vango-go/vai-tutor/pkg/gateway/server"
	"github.com/vango-go/vai-tutor/pkg/tutor/analysis"
	"github.com/vango-go/vai-tutor/pkg/tutor/toolcall"
)

var version = "dev"

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newAnalyzer  func(context.Context, config.Config, *http.Client) (analysis.Analyzer, error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Deps) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		newAnalyzer: newAnalyzer,
		newGateway:  gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func buildVisionHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Timeout: cfg.AnalysisTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// newAnalyzer picks the vision backend. A nil Analyzer is valid and makes
// check_work answer from shape counts only.
func newAnalyzer(ctx context.Context, cfg config.Config, httpClient *http.Client) (analysis.Analyzer, error) {
	switch cfg.Analyzer {
	case config.AnalyzerNone:
		return nil, nil
	case config.AnalyzerGemini:
		g, err := analysis.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, httpClient)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		if !cfg.APIKeyConfigured() {
			return nil, nil
		}
		return analysis.NewXAI(cfg.XAIAPIKey,
			analysis.WithBaseURL(cfg.VisionBaseURL),
			analysis.WithModel(cfg.VisionModel),
			analysis.WithHTTPClient(httpClient),
		), nil
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.newAnalyzer == nil {
		return errors.New("missing newAnalyzer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.APIKeyConfigured() {
		logger.Warn("XAI_API_KEY is not set; tutoring sessions will fail to connect")
	}

	analyzer, err := deps.newAnalyzer(ctx, cfg, buildVisionHTTPClient(cfg))
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}
	tools, err := toolcall.Declarations()
	if err != nil {
		return fmt.Errorf("tool declarations: %w", err)
	}

	store := sessions.NewStore(sessions.StoreConfig{MaxSessions: cfg.MaxSessions, Logger: logger})
	sweeper := cron.New()
	if _, err := store.ScheduleSweep(sweeper, cfg.SweepSchedule, cfg.SessionMaxAge); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	gw := deps.newGateway(cfg, logger, gatewayserver.Deps{
		Store:    store,
		Analyzer: analyzer,
		Tools:    tools,
		Version:  version,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting tutor gateway",
		"addr", cfg.Addr,
		"analyzer", string(cfg.Analyzer),
		"analyze_on_snapshot", cfg.AnalyzeOnSnapshot,
		"max_sessions", cfg.MaxSessions,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	warned := gw.WarnLiveSessionsDraining()
	logger.Info("draining tutor sessions", "sessions", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		n := gw.CancelLiveSessions()
		logger.Warn("grace period elapsed; sessions canceled", "sessions", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("tutor gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "tutor-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "tutor-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
