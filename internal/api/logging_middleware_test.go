package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNewRouterLogsRequestCompleted(t *testing.T) {
	var buf bytes.Buffer
	s := setupTestRouterWithLogger(t, newBufferLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("User-Agent", "kabulog-test-agent")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)

	logs := buf.String()
	for _, want := range []string{
		"http request completed",
		"method=GET",
		"path=/api/health",
		"status=200",
		"request_id=",
		"duration_ms=",
		"user_agent=kabulog-test-agent",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("expected %q in logs, got %q", want, logs)
		}
	}
}

func TestNewRouterLogsWarnForBadRequest(t *testing.T) {
	var buf bytes.Buffer
	s := setupTestRouterWithLogger(t, newBufferLogger(&buf))

	rr := doRequest(s.router, http.MethodGet, "/api/portfolio/history?month=april", nil)
	expectStatus(t, rr, http.StatusBadRequest)

	logs := buf.String()
	if !strings.Contains(logs, "level=WARN") || !strings.Contains(logs, "status=400") {
		t.Fatalf("expected warn log with status, got %q", logs)
	}
	if !strings.Contains(logs, `error_message="month must be YYYY-MM"`) {
		t.Fatalf("expected error message in log, got %q", logs)
	}
}

func TestNewRouterRecoversPanicWithStructuredLog(t *testing.T) {
	var buf bytes.Buffer
	oldDefault := slog.Default()
	slog.SetDefault(newBufferLogger(&buf))
	t.Cleanup(func() { slog.SetDefault(oldDefault) })

	router := NewRouter(nil)
	rr := doRequest(router, http.MethodGet, "/api/account-types", nil)
	expectStatus(t, rr, http.StatusInternalServerError)

	if !strings.Contains(rr.Body.String(), `"message":"internal server error"`) {
		t.Fatalf("expected structured error response, got %q", rr.Body.String())
	}
	logs := buf.String()
	if !strings.Contains(logs, "panic recovered") || !strings.Contains(logs, "request_id=") {
		t.Fatalf("expected panic recovery log, got %q", logs)
	}
	if !strings.Contains(logs, "level=ERROR") || !strings.Contains(logs, "status=500") {
		t.Fatalf("expected error level completion log, got %q", logs)
	}
}

func TestNewRouterUsesCoreLogger(t *testing.T) {
	var buf bytes.Buffer
	s := setupTestRouterWithLogger(t, newBufferLogger(&buf))

	var defaultBuf bytes.Buffer
	oldDefault := slog.Default()
	slog.SetDefault(newBufferLogger(&defaultBuf))
	t.Cleanup(func() { slog.SetDefault(oldDefault) })

	expectStatus(t, doRequest(s.router, http.MethodGet, "/api/health", nil), http.StatusOK)

	if !strings.Contains(buf.String(), "http request completed") {
		t.Fatalf("expected logs written through core logger, got %q", buf.String())
	}
	if defaultBuf.Len() != 0 {
		t.Fatalf("expected no log written to slog default, got %q", defaultBuf.String())
	}
}

func TestCooldownResponseIsLoggedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)
	handler := requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		writeError(w, http.StatusTooManyRequests, "wait")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stocks", nil))
	expectStatus(t, rr, http.StatusTooManyRequests)

	logs := buf.String()
	if !strings.Contains(logs, "level=INFO") || !strings.Contains(logs, "retry_after=42") {
		t.Fatalf("expected info log with retry_after, got %q", logs)
	}
}
