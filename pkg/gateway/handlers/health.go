package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-tutor/pkg/gateway/config"
	"github.com/vango-go/vai-tutor/pkg/gateway/live/sessions"
)

// ServiceName is reported by the root info endpoint.
const ServiceName = "vai-tutor"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// InfoHandler serves GET / with a short service description.
type InfoHandler struct {
	Version string
}

func (h InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version := h.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"status":  "running",
		"version": version,
		"endpoints": map[string]string{
			"websocket": "/ws",
			"health":    "/health",
			"ready":     "/readyz",
		},
	})
}

// StatusHandler serves GET /health for frontends that want to know whether the
// tutor can start a voice session at all.
type StatusHandler struct {
	Config config.Config
	Now    func() time.Time
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	writeJSON(w, http.StatusOK, struct {
		Status           string `json:"status"`
		Timestamp        string `json:"timestamp"`
		APIKeyConfigured bool   `json:"api_key_configured"`
	}{
		Status:           "healthy",
		Timestamp:        now().UTC().Format(time.RFC3339),
		APIKeyConfigured: h.Config.APIKeyConfigured(),
	})
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
	Store  *sessions.Store
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveSessions int      `json:"active_sessions"`
		MaxSessions    int      `json:"max_sessions"`
		Analyzer       string   `json:"analyzer"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if !h.Config.APIKeyConfigured() {
		issues = append(issues, "XAI_API_KEY is not configured")
	}
	if h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "websocket timeouts must be > 0")
	}
	if h.Config.OutboundQueueSize <= 0 {
		issues = append(issues, "outbound queue size must be > 0")
	}

	resp := readyResp{
		MaxSessions: h.Config.MaxSessions,
		Analyzer:    string(h.Config.Analyzer),
	}
	if h.Store == nil {
		issues = append(issues, "session store is not configured")
	} else {
		resp.Draining = h.Store.IsDraining()
		resp.ActiveSessions = h.Store.Count()
		if resp.Draining {
			issues = append(issues, "draining")
		}
	}

	resp.OK = len(issues) == 0
	resp.Issues = issues
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
