package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody bounds how much of a failed request body is captured
const maxLoggedBody = 64 * 1024

// sensitiveFields are redacted from logged request bodies
var sensitiveFields = []string{
	"licenseKey", "license_key", "password", "token", "secret", "api_key", "apiKey",
}

// ErrorMiddleware logs every request with a level derived from its status
// and attaches the sanitized body of failed requests.
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "error_middleware")),
	}
}

// Handler returns the middleware handler function
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var requestBody []byte
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength < maxLoggedBody {
			requestBody, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		start := time.Now()
		defer func() {
			if err := recover(); err != nil {
				m.handler.HandlePanic(ww, r, err)
			}
		}()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= 400 && len(requestBody) > 0 {
			body := sanitizeRequestBody(requestBody)
			if len(body) > 500 {
				body = body[:500] + "..."
			}
			attrs = append(attrs, slog.String("request_body", body))
		}

		m.logger.LogAttrs(r.Context(), level, "http request", attrs...)
	})
}

// sanitizeRequestBody redacts sensitive top-level JSON fields. Bodies that
// are not JSON objects are dropped entirely.
func sanitizeRequestBody(body []byte) string {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "[unparseable body omitted]"
	}

	for _, field := range sensitiveFields {
		if _, exists := data[field]; exists {
			data[field] = "[REDACTED]"
		}
	}

	sanitized, _ := json.Marshal(data)
	return string(sanitized)
}

// RecoveryMiddleware provides panic recovery with proper error responses
func RecoveryMiddleware(handler *ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					handler.HandlePanic(w, r, err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
