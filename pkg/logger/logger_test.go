package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":    slog.LevelDebug,
		"info":     slog.LevelInfo,
		"WARNING":  slog.LevelWarn,
		"ERROR":    slog.LevelError,
		"CRITICAL": LevelCritical,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("TRACE"); ok {
		t.Fatalf("expected TRACE to be rejected")
	}
}

func TestNew_LevelFiltersAndCriticalName(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "ERROR")

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}

	l.Log(context.Background(), LevelCritical, "boom")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["level"] != "CRITICAL" || rec["msg"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNew_LocalDefaultsToDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "local", "")
	l.Debug("visible")
	if buf.Len() == 0 {
		t.Fatalf("expected debug output in local env")
	}
}

func TestMiddleware_SetsRequestIDAndContextLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "local", "DEBUG")))

	var sawCtxLogger bool
	r.GET("/x", func(c *gin.Context) {
		sawCtxLogger = From(c.Request.Context()) != slog.Default()
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") != "rid-1" {
		t.Fatalf("expected request id echoed")
	}
	if !sawCtxLogger {
		t.Fatalf("expected request logger on context")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request_id in log: %s", buf.String())
	}
}
