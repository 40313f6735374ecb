package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safebank/internal/config"
)

func newMemoryServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		StoreDriver:  config.StoreDriverMemory,
		StoreTimeout: time.Second,
		MaxRetries:   3,
	}
	srv, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return srv
}

func TestHealthReportsHealthy(t *testing.T) {
	srv := newMemoryServer(t)

	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRoutesAreRegistered(t *testing.T) {
	srv := newMemoryServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts",
		bytes.NewBufferString(`{"accountNumber":"ACC1001","holderName":"Anthony Stark","balance":500}`))
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownStoreDriver(t *testing.T) {
	_, err := NewServer(&config.Config{StoreDriver: "sqlite"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestStartAndStop(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:  config.StoreDriverMemory,
		ServerPort:   "0",
		StoreTimeout: time.Second,
		MaxRetries:   3,
	}
	srv, port, err := StartServer(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, "0", port)

	resp, err := http.Get(srv.GetBaseURL() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, srv.Stop(ctx))
}
