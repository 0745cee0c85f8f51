package httpapi

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Bomussa/Eme/internal/metrics"

	"github.com/rs/zerolog"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func LoggingMiddleware(logger zerolog.Logger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(writer, r)
			latency := time.Since(start)

			path := routeLabel(r.URL.Path)
			if m != nil {
				m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(writer.status)).Inc()
				m.RequestDuration.WithLabelValues(r.Method, path).Observe(latency.Seconds())
			}

			evt := logger.Info()
			if writer.status >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.
				Str("request_id", writer.Header().Get(requestIDHeader)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", writer.status).
				Dur("latency", latency).
				Str("remote_ip", remoteHost(r)).
				Msg("request")
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					logger.Error().
						Str("request_id", w.Header().Get(requestIDHeader)).
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")
					writeError(w, w.Header().Get(requestIDHeader), http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// routeLabel keeps metric cardinality bounded; SockJS paths embed session ids.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/realtime/") {
		return "/realtime"
	}
	if strings.HasPrefix(path, "/api/") || path == "/healthz" || path == "/metrics" {
		return path
	}
	return "other"
}
