package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/where-is-my-bus/internal/config"
	"github.com/ukydev/where-is-my-bus/internal/db"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNewServer_Routes(t *testing.T) {
	cfg := config.Default()
	srv, err := newServer(&cfg, db.NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, cfg.Addr(), srv.Addr)

	req := httptest.NewRequest(http.MethodPost, "/api/updateBus", strings.NewReader(`{"bus_id":"B1","gps":{"lat":1,"lng":1}}`))
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nearest?lat=1&lng=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bus_id":"B1"`)
	assert.Contains(t, w.Body.String(), `"distance_m":0`)
}

func TestNewServer_RateLimitFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Requests = 1
	cfg.RateLimit.Window = time.Minute
	srv, err := newServer(&cfg, db.NewMemoryStore())
	require.NoError(t, err)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/updateBus", strings.NewReader(`{"bus_id":"B1"}`)))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestNewServer_InvalidTrustedProxy(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Requests = 1
	cfg.RateLimit.TrustedProxies = []string{"nope"}
	_, err := newServer(&cfg, db.NewMemoryStore())
	assert.Error(t, err)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := config.Default()
	cfg.Port = freePort(t)
	cfg.ShutdownTimeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, &cfg) }()

	url := "http://127.0.0.1" + cfg.Addr() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
