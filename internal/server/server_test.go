package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mastinoo/Invictusmessages/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, path, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewMux_Healthz(t *testing.T) {
	h := NewMux(Options{Logger: quietLogger()})

	rec := do(t, h, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestNewMux_CorrelationIDEchoed(t *testing.T) {
	h := NewMux(Options{Logger: quietLogger()})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}

func TestNewMux_Readyz(t *testing.T) {
	ready := errors.New("gateway not connected")
	h := NewMux(Options{Logger: quietLogger(), Ready: func() error { return ready }})

	rec := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway not connected")

	ready = nil
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewMux_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "invictus_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := do(t, NewMux(Options{Gatherer: reg, Logger: quietLogger()}), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invictus_test_total 1")
}

func TestNewMux_MCPRequiresToken(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "mcp")
	})
	h := NewMux(Options{MCP: mcp, AuthToken: "tok", Logger: quietLogger()})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/mcp", "").Code)

	rec := do(t, h, http.MethodPost, "/mcp", "Bearer tok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mcp", rec.Body.String())
}

func TestNewMux_MCPNotMountedWithoutToken(t *testing.T) {
	reached := false
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})
	h := NewMux(Options{MCP: mcp, AuthToken: config.DefaultConfig().Server.AuthToken, Logger: quietLogger()})

	rec := do(t, h, http.MethodPost, "/mcp", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, reached, "admin handler must not be reachable without a token")
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestNewMux_NoMCPHandler(t *testing.T) {
	h := NewMux(Options{Logger: quietLogger()})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/mcp", "").Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(0, NewMux(Options{Logger: quietLogger()}), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "ok"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
