package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
	"sessiongate/internal/shared/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var seen, traceID string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetReqID(r.Context())
			traceID = infrastructure.GetTraceID(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, traceID)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("honours inbound header", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetReqID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	})
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := RequestID(StructuredLogger(logger)(okHandler))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request started")
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request completed")
	testutil.AssertLogAttr(t, logs, "status", int64(http.StatusOK))
}

func TestRateLimiter(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	limiter := NewRateLimiter(1, 2, apierrors.NewErrorHandler(logger, false), logger)
	handler := limiter.Handler(okHandler)

	request := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, request("10.0.0.1:1001").Code)

	w := request("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, apierrors.TypeRateLimit, decodeBody(t, w)["type"])
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "rate limit exceeded")

	// other clients have their own bucket
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1000").Code)
	assert.Equal(t, 2, limiter.Clients())
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(10, 10, nil, nil)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	limiter.Allow("b")
	require.Equal(t, 2, limiter.Clients())

	now = now.Add(limiter.idleTTL + time.Second)
	limiter.Allow("c")
	assert.Equal(t, 1, limiter.Clients())
}

func TestTimeout(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	t.Run("deadline reaches the handler", func(t *testing.T) {
		var deadline time.Time
		handler := Timeout(time.Second, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deadline, _ = r.Context().Deadline()
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
	})

	t.Run("overrun is logged", func(t *testing.T) {
		handler := Timeout(10*time.Millisecond, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
			apierrors.NewErrorHandler(logger, false).HandleError(w, r, r.Context().Err())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		testutil.AssertLogContains(t, logs, slog.LevelWarn, "request exceeded timeout")
	})
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}})(okHandler)

	t.Run("allowed origin echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://APP.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "https://APP.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
	})

	t.Run("unknown origin not echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/sessions/validate", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed(nil, "https://any"))
	assert.True(t, OriginAllowed([]string{"*"}, "https://any"))
	assert.True(t, OriginAllowed([]string{"http://localhost:8080"}, "http://localhost:8080"))
	assert.False(t, OriginAllowed([]string{"http://localhost:8080"}, ""))
	assert.False(t, OriginAllowed([]string{"http://localhost:8080"}, "http://localhost:9090"))
}

func TestRealIP(t *testing.T) {
	var remote string
	handler := RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote = r.RemoteAddr
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", remote)

	assert.Equal(t, "203.0.113.7", clientIP(&http.Request{RemoteAddr: "203.0.113.7"}))
	assert.Equal(t, "192.0.2.1", clientIP(&http.Request{RemoteAddr: "192.0.2.1:5555"}))
}

func TestAPIKeyAuth(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	errorHandler := apierrors.NewErrorHandler(logger, false)
	keys := map[string]string{"secret-1": "billing"}

	var client string
	handler := APIKeyAuth(logger, errorHandler, keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client = APIClientFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantLog    string
	}{
		{"missing", "", http.StatusUnauthorized, "missing API key"},
		{"wrong", "secret-2", http.StatusUnauthorized, "invalid API key"},
		{"valid", "secret-1", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Clear()
			client = ""
			req := httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "billing", client)
				return
			}
			assert.Equal(t, apierrors.TypeUnauthorized, decodeBody(t, w)["type"])
			testutil.AssertLogContains(t, logs, slog.LevelWarn, tt.wantLog)
			assert.False(t, logs.ContainsText("secret-2"))
		})
	}
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	handler := APIKeyAuth(slog.Default(), apierrors.NewErrorHandler(nil, false), nil)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, APIClientFromContext(context.Background()))
}

func TestSecureHeaders(t *testing.T) {
	handler := DefaultSecureHeaders().Handler(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "plain http gets no HSTS")

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestMiddlewareChainOrder(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	errorHandler := apierrors.NewErrorHandler(logger, false)

	chain := RequestID(RealIP(NewRateLimiter(0.01, 1, errorHandler, logger).Handler(okHandler)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, w.Header().Get(RequestIDHeader), body["trace_id"])
	assert.True(t, strings.HasPrefix(body["instance"].(string), "/"))
}
