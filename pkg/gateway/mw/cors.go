package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-tutor/pkg/gateway/config"
)

const (
	corsAllowedMethods = "GET, OPTIONS"
	corsAllowedHeaders = "Content-Type, X-Request-ID"
	corsExposedHeaders = "X-Request-ID"
	corsMaxAge         = "600"
)

// CORS answers preflights and tags responses for origins in the allowlist. The
// tutor frontend only reads JSON status routes and opens /ws, so GET is enough.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	listed := func(origin string) bool {
		if origin == "" {
			return false
		}
		_, ok := allowed[origin]
		return ok
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		preflight := r.Method == http.MethodOptions &&
			strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""

		if preflight {
			if !listed(origin) {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			h := w.Header()
			setOriginHeaders(h, origin)
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if listed(origin) {
			setOriginHeaders(w.Header(), origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func setOriginHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")
}
