package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/common"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func testAPIConfig(enabled bool, listenAddr string) *config.APIConfig {
	return &config.APIConfig{
		Enabled:       enabled,
		ListenAddress: listenAddr,
		ReadTimeout:   common.Duration{Duration: 5 * time.Second},
		WriteTimeout:  common.Duration{Duration: 10 * time.Second},
		IdleTimeout:   common.Duration{Duration: 60 * time.Second},
	}
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig(true, "localhost:8080")
	server := NewServer(cfg, newFakeStore(), logger.NewNopLogger())

	require.NotNil(t, server)
	require.NotNil(t, server.config)
	require.NotNil(t, server.handler)
	require.NotNil(t, server.server)
	require.Equal(t, "localhost:8080", server.server.Addr)
	require.Equal(t, 5*time.Second, server.server.ReadTimeout)
	require.Equal(t, 10*time.Second, server.server.WriteTimeout)
	require.Equal(t, 60*time.Second, server.server.IdleTimeout)
}

func TestNewServerCORSEnabled(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig(true, ":9090")
	cfg.CORS = config.CORSConfig{Enabled: true, AllowedOrigins: []string{"http://localhost:3000", "https://example.com"}}

	server := NewServer(cfg, newFakeStore(), logger.NewNopLogger())

	require.True(t, server.config.CORS.Enabled)
	require.Len(t, server.config.CORS.AllowedOrigins, 2)
}

func TestServerStartDisabled(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig(false, ":8080")
	server := NewServer(cfg, newFakeStore(), logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(1 * time.Second):
		t.Fatal("Start() did not return when server is disabled")
	}
}

func TestServerStartGracefulShutdown(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig(true, "localhost:0")
	server := NewServer(cfg, newFakeStore(), logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down gracefully within timeout")
	}
}

func TestServerRoutesEntityEndToEnd(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.put("ERC20Transfer", "tx:0", checkpoint.New(10, 1, 100, 0), map[string]any{"from": "0xaa"})

	cfg := testAPIConfig(true, ":0")
	server := NewServer(cfg, store, logger.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/ERC20Transfer/tx:0", nil)
	w := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestServerHealthRoute(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig(true, ":0")
	server := NewServer(cfg, newFakeStore(), logger.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestServerListenAddress(t *testing.T) {
	t.Parallel()

	tests := []string{"localhost:8080", ":8080", "127.0.0.1:9090", ":0"}

	for _, addr := range tests {
		t.Run(addr, func(t *testing.T) {
			t.Parallel()

			cfg := testAPIConfig(true, addr)
			server := NewServer(cfg, newFakeStore(), logger.NewNopLogger())

			require.Equal(t, addr, server.server.Addr)
			require.Equal(t, addr, server.config.ListenAddress)
		})
	}
}
