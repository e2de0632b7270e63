package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apierrors "sessiongate/internal/errors"
)

// APIKeyHeader carries the caller's API key
const APIKeyHeader = "X-API-Key"

type apiClientKey struct{}

// APIClientFromContext returns the client name bound by APIKeyAuth
func APIClientFromContext(ctx context.Context) string {
	name, _ := ctx.Value(apiClientKey{}).(string)
	return name
}

// APIKeyAuth rejects requests without a known X-API-Key. validKeys maps
// keys to client names. An empty map disables the check.
func APIKeyAuth(logger *slog.Logger, errorHandler *apierrors.ErrorHandler, validKeys map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.WarnContext(ctx, "missing API key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}

			clientName, valid := lookupKey(validKeys, apiKey)
			if !valid {
				logger.WarnContext(ctx, "invalid API key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, apiClientKey{}, clientName)

			logger.DebugContext(ctx, "API key authentication successful",
				slog.String("client", clientName),
				slog.String("path", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookupKey compares against every key in constant time per key
func lookupKey(validKeys map[string]string, apiKey string) (string, bool) {
	var (
		name  string
		found bool
	)
	for key, client := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			name, found = client, true
		}
	}
	return name, found
}

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecureHeaders returns headers suited to a JSON API
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            63072000, // 2 years
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		PermissionsPolicy:     defaultPermissionsPolicy(),
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upgrade responses carry no body to protect
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}

		setIfNotEmpty(h, "Content-Security-Policy", sh.ContentSecurityPolicy)
		setIfNotEmpty(h, "X-Frame-Options", sh.XFrameOptions)
		setIfNotEmpty(h, "X-Content-Type-Options", sh.XContentTypeOptions)
		setIfNotEmpty(h, "Referrer-Policy", sh.ReferrerPolicy)
		setIfNotEmpty(h, "Permissions-Policy", sh.PermissionsPolicy)

		next.ServeHTTP(w, r)
	})
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func defaultPermissionsPolicy() string {
	policies := []string{
		"accelerometer=()",
		"camera=()",
		"geolocation=()",
		"microphone=()",
		"payment=()",
		"usb=()",
	}
	return strings.Join(policies, ", ")
}
