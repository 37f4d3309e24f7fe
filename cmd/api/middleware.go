package main

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	formrelay "github.com/areta360/form-relay/internal"
)

func secHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware attaches a request-scoped logger, writes one access log
// line per request and turns panics into 500s. It expects chi's RequestID and
// RealIP to run first.
func loggingMiddleware(baseLogger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestLogger := baseLogger.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		)

		ctx := formrelay.ContextWithLogger(r.Context(), requestLogger)
		r = r.WithContext(ctx)

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				requestLogger.Error("panic recovered",
					zap.Any("err", rec),
					zap.String("type", fmt.Sprintf("%T", rec)),
					zap.String("stack", string(debug.Stack())),
				)
				lrw.WriteHeader(http.StatusInternalServerError)
			}
			level := zapcore.InfoLevel
			switch {
			case lrw.status >= 500:
				level = zapcore.ErrorLevel
			case lrw.status >= 400:
				level = zapcore.WarnLevel
			}
			requestLogger.Log(level, "request completed",
				zap.Int("status", lrw.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int("bytes", lrw.length),
			)
		}()

		next.ServeHTTP(lrw, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
	wrote  bool
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	if !lrw.wrote {
		lrw.ResponseWriter.WriteHeader(status)
		lrw.wrote = true
	}
	lrw.status = status
}

func (lrw *loggingResponseWriter) Write(p []byte) (int, error) {
	if !lrw.wrote {
		lrw.WriteHeader(http.StatusOK)
	}
	n, err := lrw.ResponseWriter.Write(p)
	lrw.length += n
	return n, err
}
