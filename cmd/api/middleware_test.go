package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	formrelay "github.com/areta360/form-relay/internal"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  zapcore.Level
	}{
		{"ok", http.StatusOK, zapcore.InfoLevel},
		{"client error", http.StatusTooManyRequests, zapcore.WarnLevel},
		{"server error", http.StatusInternalServerError, zapcore.ErrorLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger, logs := observedLogger()
			h := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("body"))
			}))

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, tc.status, rr.Code)
			entries := logs.FilterMessage("request completed").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tc.level, entries[0].Level)
			fields := entries[0].ContextMap()
			assert.EqualValues(t, tc.status, fields["status"])
			assert.EqualValues(t, 4, fields["bytes"])
			assert.Equal(t, "/api/health", fields["path"])
		})
	}
}

func TestLoggingMiddlewareInjectsLogger(t *testing.T) {
	logger, logs := observedLogger()
	h := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		formrelay.LoggerFromContext(r.Context()).Info("inside handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/blog-form", nil))

	entries := logs.FilterMessage("inside handler").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "POST", entries[0].ContextMap()["method"])
}

func TestLoggingMiddlewareRecoversPanic(t *testing.T) {
	logger, logs := observedLogger()
	h := loggingMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.ErrorLevel, completed[0].Level)
}

func TestNewHandlerStack(t *testing.T) {
	logger, logs := observedLogger()
	routes := http.NewServeMux()
	routes.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	h := newHandler(routes, []string{"https://areta360.com"}, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://areta360.com")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://areta360.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "203.0.113.7", fields["remote"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestNewHandlerRejectsForeignOrigin(t *testing.T) {
	logger, _ := observedLogger()
	h := newHandler(http.NotFoundHandler(), []string{"https://areta360.com"}, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, logLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, logLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, logLevel(""))
}
