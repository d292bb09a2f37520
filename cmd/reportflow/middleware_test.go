package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/config"
	"github.com/BaSui01/reportflow/internal/metrics"
	"github.com/BaSui01/reportflow/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders()(okHandler()), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	var gotID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = types.RequestID(r.Context())
		w.Write([]byte("ok"))
	})

	w := serve(Chain(inner, SecurityHeaders(), RequestID()), httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), gotID)
}

func TestRequestID_KeepsClientValue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-client")
	w := serve(RequestID()(okHandler()), r)
	assert.Equal(t, "req-client", w.Header().Get("X-Request-ID"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/runs", "/api/v1/runs"},
		{"/api/v1/approvals", "/api/v1/approvals"},
		{"/api/v1/runs/sess-42", "/api/v1/runs/:id"},
		{"/api/v1/runs/sess-42/resume", "/api/v1/runs/:id/resume"},
		{"/api/v1/runs/sess-42/events", "/api/v1/runs/:id/events"},
		{"/api/v1/runs/sess-42/records", "/api/v1/runs/:id/records"},
		{"/api/v1/records/5f0c2a9e-1b2c-4d5e-8f90-123456789abc", "/api/v1/records/:id"},
		{"/other/12345", "/other/:id"},
		{"/other/name", "/other/name"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth([]string{"k1", "k2"}, []string{"/health"}, zap.NewNop())(okHandler())

	t.Run("missing key", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), string(types.ErrAuthentication))
	})

	t.Run("valid key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		r.Header.Set("X-API-Key", "k2")
		assert.Equal(t, http.StatusOK, serve(h, r).Code)
	})

	t.Run("query param is ignored", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/runs?api_key=k1", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("skip path", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	})
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "reportflow"}

	var gotUser string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = types.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(inner)

	request := func(token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return serve(h, r)
	}
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("user_id claim", func(t *testing.T) {
		gotUser = ""
		w := request(signHS256(t, "s3cret", jwt.MapClaims{"user_id": "alice", "sub": "ignored", "iss": "reportflow", "exp": exp}))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", gotUser)
	})

	t.Run("sub fallback", func(t *testing.T) {
		gotUser = ""
		w := request(signHS256(t, "s3cret", jwt.MapClaims{"sub": "bob", "iss": "reportflow", "exp": exp}))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "bob", gotUser)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := request(signHS256(t, "other", jwt.MapClaims{"sub": "bob", "iss": "reportflow", "exp": exp}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		w := request(signHS256(t, "s3cret", jwt.MapClaims{"sub": "bob", "iss": "reportflow", "exp": time.Now().Add(-time.Minute).Unix()}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		w := request(signHS256(t, "s3cret", jwt.MapClaims{"sub": "bob", "iss": "someone-else", "exp": exp}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request("").Code)
	})

	t.Run("skip path", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, 0.001, 2, zap.NewNop())(okHandler())

	fromIP := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		r.RemoteAddr = ip + ":5555"
		return r
	}

	assert.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
	w := serve(h, fromIP("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrRateLimited))

	// 其他客户端不受影响
	assert.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.2")).Code)

	// 已认证用户按用户计，不与 IP 共享额度
	r := fromIP("10.0.0.1")
	r = r.WithContext(types.WithUserID(r.Context(), "alice"))
	assert.Equal(t, http.StatusOK, serve(h, r).Code)
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.7:4000"
	assert.Equal(t, "ip:192.168.1.7", rateLimitKey(r))

	r = r.WithContext(types.WithUserID(r.Context(), "carol"))
	assert.Equal(t, "user:carol", rateLimitKey(r))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	t.Run("allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := serve(h, r)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")
	})

	t.Run("other origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := serve(h, r)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
		r.Header.Set("Origin", "https://app.example.com")
		assert.Equal(t, http.StatusNoContent, serve(h, r).Code)
	})

	t.Run("disabled rejects preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
		r.Header.Set("Origin", "https://app.example.com")
		assert.Equal(t, http.StatusForbidden, serve(CORS(nil)(okHandler()), r).Code)
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	w := serve(Recovery(zap.NewNop())(panicking), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
	assert.NotContains(t, w.Body.String(), "boom")

	aborting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(Recovery(zap.NewNop())(aborting), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMiddleware_FlushPassesThrough(t *testing.T) {
	collector := metrics.NewCollector("reportflow_mw_test", zap.NewNop())

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Write([]byte("data: x\n\n"))
		f.Flush()
	})
	h := Chain(inner,
		Recovery(zap.NewNop()),
		MetricsMiddleware(collector),
		RequestLogger(zap.NewNop()),
	)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/events", nil))
	assert.True(t, w.Flushed)
	assert.Equal(t, "data: x\n\n", w.Body.String())
}

func TestStreamShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(done)
	})
	h := StreamShutdown(ctx)(stream)

	go serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/events", nil))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not cancelled on shutdown")
	}

	// 普通请求不受影响
	var reqErr error
	plain := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqErr = r.Context().Err()
	})
	serve(StreamShutdown(ctx)(plain), httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.NoError(t, reqErr)
}
