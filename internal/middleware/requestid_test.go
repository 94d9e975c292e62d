package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestIDKeepsOrGenerates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id = %q / %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad\x01id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen == "bad\x01id" || len(seen) != 36 {
		t.Fatalf("control characters should be replaced, got %q", seen)
	}
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	var scoped bool
	handler := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/edits", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "rid-1" || line["path"] != "/v1/edits" || line["status"] != float64(http.StatusCreated) || line["bytes"] != float64(4) {
		t.Fatalf("log line = %v", line)
	}
	if !scoped {
		t.Fatalf("handler did not receive a request logger")
	}
}

func TestRecoveryReturns500(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"internal"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
