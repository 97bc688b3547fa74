package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/meeting-relay/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	log, buf := testutil.BufferLogger()
	app := &RelayApp{log: log}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &RelayApp{log: zerolog.Nop()}

	// simple handler that does not panic
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_securityHeaders(t *testing.T) {
	ta := newTestApp(t, testAppOptions{})

	rr := ta.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
	assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "frame-ancestors 'self' https://*.zoom.us")
}

func Test_requestLogger(t *testing.T) {
	log, buf := testutil.BufferLogger()
	app := &RelayApp{log: log}

	var fromHandler string
	handler := app.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromHandler = w.Header().Get(requestIDHeader)
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("echoes caller id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/brew", nil)
		req.Header.Set(requestIDHeader, "req-42")
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "req-42", rr.Header().Get(requestIDHeader))
		assert.Equal(t, "req-42", fromHandler)
		assert.Contains(t, buf.String(), `"request_id":"req-42"`)
		assert.Contains(t, buf.String(), `"status":418`)
		assert.Contains(t, buf.String(), `"path":"/brew"`)
	})

	t.Run("generates id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, rr.Header().Get(requestIDHeader), 36)
	})
}

// streamRequest returns a /stream request whose client has already gone, so
// the handler returns right after the greeting.
func streamRequest(method, origin string) *http.Request {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(method, "/stream", nil).WithContext(ctx)
	req.Header.Set("Origin", origin)
	return req
}

func Test_cors(t *testing.T) {
	const origin = "https://viewer.example.com"

	t.Run("stream allows configured origin", func(t *testing.T) {
		ta := newTestApp(t, testAppOptions{allowedOrigins: []string{origin}})

		rr := ta.do(streamRequest(http.MethodGet, origin))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, origin, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("stream preflight", func(t *testing.T) {
		ta := newTestApp(t, testAppOptions{allowedOrigins: []string{origin}})
		req := streamRequest(http.MethodOptions, origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)

		rr := ta.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, origin, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("stream ignores other origins", func(t *testing.T) {
		ta := newTestApp(t, testAppOptions{allowedOrigins: []string{origin}})

		rr := ta.do(streamRequest(http.MethodGet, "https://evil.example.com"))

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("rest api is same-origin only", func(t *testing.T) {
		ta := newTestApp(t, testAppOptions{allowedOrigins: []string{origin}})
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Origin", origin)

		rr := ta.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origins configured", func(t *testing.T) {
		ta := newTestApp(t, testAppOptions{})

		rr := ta.do(streamRequest(http.MethodGet, origin))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})
}
