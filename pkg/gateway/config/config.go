package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AnalyzerBackend string

const (
	AnalyzerXAI    AnalyzerBackend = "xai"
	AnalyzerGemini AnalyzerBackend = "gemini"
	AnalyzerNone   AnalyzerBackend = "none"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:8080",
}

type Config struct {
	Addr string

	// Realtime voice upstream.
	XAIAPIKey          string
	RealtimeURL        string
	Voice              string
	RealtimeSampleRate int
	TranscriptionModel string

	// Canvas analysis.
	Analyzer          AnalyzerBackend
	VisionBaseURL     string
	VisionModel       string
	GeminiAPIKey      string
	GeminiModel       string
	AnalysisCooldown  time.Duration
	AnalysisTimeout   time.Duration
	AnalyzeOnSnapshot bool
	CircleBiasRatio   float64

	// CORS and websocket origin allowlist.
	CORSAllowedOrigins map[string]struct{}

	// Websocket sessions (/ws).
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration
	WSMaxMessageBytes int64
	OutboundQueueSize int
	ReadyTimeout      time.Duration

	MaxSessions   int
	SessionMaxAge time.Duration
	SweepSchedule string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                listenAddr(),
		XAIAPIKey:           envOr("XAI_API_KEY", ""),
		RealtimeURL:         envOr("TUTOR_REALTIME_URL", "wss://api.x.ai/v1/realtime"),
		Voice:               envOr("TUTOR_VOICE", envOr("VOICE", "tara")),
		RealtimeSampleRate:  envIntOr("TUTOR_REALTIME_SAMPLE_RATE", 24000),
		TranscriptionModel:  envOr("TUTOR_TRANSCRIPTION_MODEL", "grok-2-public"),
		Analyzer:            AnalyzerBackend(strings.ToLower(envOr("TUTOR_ANALYZER", string(AnalyzerXAI)))),
		VisionBaseURL:       envOr("TUTOR_VISION_BASE_URL", "https://api.x.ai/v1"),
		VisionModel:         envOr("TUTOR_VISION_MODEL", "grok-4"),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("TUTOR_GEMINI_MODEL", "gemini-2.5-flash"),
		AnalysisCooldown:    envDurationOr("TUTOR_ANALYSIS_COOLDOWN", 10*time.Second),
		AnalysisTimeout:     envDurationOr("TUTOR_ANALYSIS_TIMEOUT", 30*time.Second),
		AnalyzeOnSnapshot:   envBoolOr("TUTOR_ANALYZE_ON_SNAPSHOT", false),
		CircleBiasRatio:     envFloat64Or("TUTOR_CIRCLE_BIAS_RATIO", 0.15),
		CORSAllowedOrigins:  make(map[string]struct{}),
		WSPingInterval:      envDurationOr("TUTOR_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("TUTOR_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("TUTOR_WS_READ_TIMEOUT", 60*time.Second),
		WSMaxMessageBytes:   envInt64Or("TUTOR_WS_MAX_MESSAGE_BYTES", 16<<20), // screenshots ride in CANVAS_UPDATE
		OutboundQueueSize:   envIntOr("TUTOR_OUTBOUND_QUEUE_SIZE", 256),
		ReadyTimeout:        envDurationOr("TUTOR_READY_TIMEOUT", 10*time.Second),
		MaxSessions:         envIntOr("TUTOR_MAX_SESSIONS", 100),
		SessionMaxAge:       envDurationOr("TUTOR_SESSION_MAX_AGE", 24*time.Hour),
		SweepSchedule:       envOr("TUTOR_SWEEP_SCHEDULE", "@every 10m"),
		ReadHeaderTimeout:   envDurationOr("TUTOR_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("TUTOR_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	origins := splitCSV(os.Getenv("TUTOR_CORS_ORIGINS"))
	if len(origins) == 0 {
		origins = splitCSV(os.Getenv("ALLOWED_ORIGINS"))
	}
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	for _, origin := range origins {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.Analyzer {
	case AnalyzerXAI, AnalyzerGemini, AnalyzerNone:
	default:
		return Config{}, fmt.Errorf("TUTOR_ANALYZER must be one of xai|gemini|none")
	}
	if cfg.Analyzer == AnalyzerGemini && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when TUTOR_ANALYZER=gemini")
	}

	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("TUTOR_REALTIME_URL must not be empty")
	}
	if cfg.RealtimeSampleRate <= 0 {
		return Config{}, fmt.Errorf("TUTOR_REALTIME_SAMPLE_RATE must be > 0")
	}
	if cfg.AnalysisCooldown <= 0 {
		return Config{}, fmt.Errorf("TUTOR_ANALYSIS_COOLDOWN must be > 0")
	}
	if cfg.AnalysisTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_ANALYSIS_TIMEOUT must be > 0")
	}
	if cfg.CircleBiasRatio < 0 || cfg.CircleBiasRatio >= 1 {
		return Config{}, fmt.Errorf("TUTOR_CIRCLE_BIAS_RATIO must be in [0, 1)")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("TUTOR_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_WS_READ_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("TUTOR_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("TUTOR_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.ReadyTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_READY_TIMEOUT must be > 0")
	}
	if cfg.MaxSessions < 0 {
		return Config{}, fmt.Errorf("TUTOR_MAX_SESSIONS must be >= 0")
	}
	if cfg.SessionMaxAge <= 0 {
		return Config{}, fmt.Errorf("TUTOR_SESSION_MAX_AGE must be > 0")
	}
	if strings.TrimSpace(cfg.SweepSchedule) == "" {
		return Config{}, fmt.Errorf("TUTOR_SWEEP_SCHEDULE must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("TUTOR_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// APIKeyConfigured reports whether the realtime upstream can be reached at all.
func (c Config) APIKeyConfigured() bool {
	return strings.TrimSpace(c.XAIAPIKey) != ""
}

// listenAddr prefers TUTOR_ADDR, then a bare PORT as set by most PaaS runtimes.
func listenAddr() string {
	if addr := envOr("TUTOR_ADDR", ""); addr != "" {
		return addr
	}
	if port := envOr("PORT", ""); port != "" {
		return ":" + port
	}
	return ":8080"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
