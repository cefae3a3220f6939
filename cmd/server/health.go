package main

import (
	"context"
	"net/http"
	"time"

	"github.com/findoc/backend/internal/cache"
	"github.com/findoc/backend/internal/db"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const version = "1.0.0"

type loadReporter interface {
	Load() (inFlight, capacity int)
}

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type executorHealth struct {
	InFlight int `json:"inFlight"`
	Capacity int `json:"capacity"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Database componentHealth `json:"database"`
		Cache    componentHealth `json:"cache"`
		Executor executorHealth  `json:"executor"`
	} `json:"services"`
}

// healthHandler reports 503 when the database is unreachable. A cache
// outage only degrades the report since status reads fall back to the store.
func healthHandler(conn *gorm.DB, c cache.Cache, load loadReporter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
		defer cancel()

		var resp healthResponse
		resp.Status = "healthy"
		resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
		resp.Version = version
		code := http.StatusOK

		resp.Services.Database.Status = "healthy"
		if err := db.Ping(pingCtx, conn); err != nil {
			resp.Status = "unhealthy"
			resp.Services.Database = componentHealth{Status: "unhealthy", Error: err.Error()}
			code = http.StatusServiceUnavailable
		}

		resp.Services.Cache.Status = "healthy"
		if err := c.Ping(pingCtx); err != nil {
			resp.Services.Cache = componentHealth{Status: "degraded", Error: err.Error()}
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}

		resp.Services.Executor.InFlight, resp.Services.Executor.Capacity = load.Load()

		ctx.JSON(code, resp)
	}
}
