package mw

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// plainWriter implements only http.ResponseWriter.
type plainWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *plainWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *plainWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *plainWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

type flushingWriter struct {
	*plainWriter
	flushed bool
}

func (w *flushingWriter) Flush() { w.flushed = true }

type upgradingWriter struct {
	*plainWriter
	hijacked bool
}

func (w *upgradingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

type fullWriter struct {
	*plainWriter
	flushed  bool
	hijacked bool
}

func (w *fullWriter) Flush() { w.flushed = true }

func (w *fullWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func logRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatalf("no access log written")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	return rec
}

// exercise runs w through AccessLog and reports which optional interfaces the
// handler saw, invoking each one it found.
func exercise(t *testing.T, w http.ResponseWriter) (sawFlush, sawHijack bool) {
	t.Helper()
	var logs bytes.Buffer
	h := AccessLog(slog.New(slog.NewJSONHandler(&logs, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if f, ok := w.(http.Flusher); ok {
			sawFlush = true
			f.Flush()
		}
		if hj, ok := w.(http.Hijacker); ok {
			sawHijack = true
			if _, _, err := hj.Hijack(); err != nil {
				t.Errorf("hijack: %v", err)
			}
		}
	}))
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	return sawFlush, sawHijack
}

func TestAccessLog_OptionalInterfacesFollowUnderlyingWriter(t *testing.T) {
	t.Parallel()

	t.Run("plain", func(t *testing.T) {
		flush, hijack := exercise(t, &plainWriter{})
		if flush || hijack {
			t.Fatalf("flush=%v hijack=%v, want neither advertised", flush, hijack)
		}
	})

	t.Run("flusher", func(t *testing.T) {
		w := &flushingWriter{plainWriter: &plainWriter{}}
		flush, hijack := exercise(t, w)
		if !flush || hijack || !w.flushed {
			t.Fatalf("flush=%v hijack=%v flushed=%v", flush, hijack, w.flushed)
		}
	})

	t.Run("hijacker", func(t *testing.T) {
		w := &upgradingWriter{plainWriter: &plainWriter{}}
		flush, hijack := exercise(t, w)
		if flush || !hijack || !w.hijacked {
			t.Fatalf("flush=%v hijack=%v hijacked=%v", flush, hijack, w.hijacked)
		}
	})

	t.Run("both", func(t *testing.T) {
		w := &fullWriter{plainWriter: &plainWriter{}}
		flush, hijack := exercise(t, w)
		if !flush || !hijack || !w.flushed || !w.hijacked {
			t.Fatalf("flush=%v hijack=%v flushed=%v hijacked=%v", flush, hijack, w.flushed, w.hijacked)
		}
	})
}

func TestAccessLog_LogsStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		handler http.HandlerFunc
		want    int
	}{
		"explicit": {
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			want:    http.StatusServiceUnavailable,
		},
		"implicit write": {
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok\n") },
			want:    http.StatusOK,
		},
		"no write": {
			handler: func(http.ResponseWriter, *http.Request) {},
			want:    http.StatusOK,
		},
	}
	for name, tc := range cases {
		var logs bytes.Buffer
		h := AccessLog(slog.New(slog.NewJSONHandler(&logs, nil)), tc.handler)
		h.ServeHTTP(&plainWriter{}, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		rec := logRecord(t, &logs)
		if got, _ := rec["status"].(float64); int(got) != tc.want {
			t.Fatalf("%s: status=%v, want %d", name, rec["status"], tc.want)
		}
	}
}

func TestAccessLog_RecordsRequestFields(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	h := RequestID(AccessLog(slog.New(slog.NewJSONHandler(&logs, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-Request-ID", "req_ws")
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := logRecord(t, &logs)
	if rec["msg"] != "request" {
		t.Fatalf("msg=%v", rec["msg"])
	}
	if rec["request_id"] != "req_ws" || rec["path"] != "/ws" || rec["method"] != http.MethodGet {
		t.Fatalf("record=%v", rec)
	}
}

func TestAccessLog_NilLoggerStillServes(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	AccessLog(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}
}
