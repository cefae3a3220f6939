package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/findoc/backend/internal/cache"
	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/db"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLoad struct{ inFlight, capacity int }

func (f fixedLoad) Load() (int, int) { return f.inFlight, f.capacity }

type downCache struct{ cache.Noop }

func (downCache) Ping(context.Context) error { return errors.New("connection refused") }

func serveHealth(t *testing.T, c cache.Cache) (int, healthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "file:" + t.Name() + "?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/health", healthHandler(conn, c, fixedLoad{inFlight: 2, capacity: 8}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealthHealthy(t *testing.T) {
	code, resp := serveHealth(t, cache.Noop{})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Services.Database.Status)
	assert.Equal(t, 2, resp.Services.Executor.InFlight)
	assert.Equal(t, 8, resp.Services.Executor.Capacity)
}

func TestHealthCacheDownIsDegraded(t *testing.T) {
	code, resp := serveHealth(t, downCache{})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "degraded", resp.Services.Cache.Status)
	assert.Contains(t, resp.Services.Cache.Error, "refused")
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware("http://localhost:3000"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Session-Token")
}
