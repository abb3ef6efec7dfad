package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobmcallan/tally/internal/common"
)

const correlationHeader = "X-Correlation-ID"

type middleware func(http.Handler) http.Handler

// statusRecorder captures what a handler wrote for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// correlationID reuses the caller's request id when it sent one.
func correlationID(r *http.Request) string {
	for _, h := range []string{"X-Request-ID", correlationHeader} {
		if id := r.Header.Get(h); id != "" {
			return id
		}
	}
	return uuid.NewString()[:8]
}

func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(correlationHeader, correlationID(r))
		next.ServeHTTP(w, r)
	})
}

func withRecovery(logger *common.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprint(rec)).
						Str("path", r.URL.Path).
						Str("correlation_id", w.Header().Get(correlationHeader)).
						Msg("Panic recovered in HTTP handler")
					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLevel logs successful requests at trace so health polling stays quiet.
func requestLevel(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.InfoLevel
	}
	return zerolog.TraceLevel
}

func withRequestLog(logger *common.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithLevel(requestLevel(rec.status)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Str("correlation_id", w.Header().Get(correlationHeader)).
				Msg("HTTP request")
		})
	}
}

// applyMiddleware wraps handler so the first middleware listed runs first.
func applyMiddleware(handler http.Handler, logger *common.Logger) http.Handler {
	chain := []middleware{
		withRecovery(logger),
		withCorrelationID,
		withRequestLog(logger),
	}
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}
