package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/findoc/backend/internal/cache"
	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/db"
	"github.com/findoc/backend/internal/events"
	"github.com/findoc/backend/internal/extract"
	"github.com/findoc/backend/internal/llm"
	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/middleware"
	"github.com/findoc/backend/internal/routes"
	"github.com/findoc/backend/internal/services"
	"github.com/findoc/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func CORSMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, "+middleware.SessionHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func main() {
	envErr := godotenv.Load()
	logger.Initialize()
	if envErr != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	if err := db.Connect(cfg.Database); err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	if err := db.AutoMigrate(db.DB); err != nil {
		logger.Fatal("Failed to migrate database", map[string]interface{}{"error": err.Error()})
	}

	if cfg.IsDevelopment() {
		logger.Info("Seeding database with initial users", nil)
		if users, err := db.LoadSeedUsers("data/initial-users.json", "../../data/initial-users.json"); err != nil {
			logger.Warn("Skipping seed", map[string]interface{}{"error": err.Error()})
		} else if _, err := db.SeedUsers(db.DB, users); err != nil {
			logger.Warn("Failed to seed database", map[string]interface{}{"error": err.Error()})
		}
	}

	startCtx := context.Background()
	svc, err := buildApp(startCtx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", map[string]interface{}{"error": err.Error()})
	}

	svc.executor.Start()
	if cfg.Analysis.RecoverInterrupted {
		if _, _, err := svc.executor.Resume(startCtx); err != nil {
			logger.Error("Failed to recover analysis jobs", map[string]interface{}{"error": err.Error()})
		}
	}

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.RequestLogger())
	r.Use(CORSMiddleware(cfg.Server.CORSOrigin))
	r.Use(gin.Recovery())

	r.GET("/health", healthHandler(db.DB, svc.cache, svc.analyses))

	routes.SetupRoutes(r, routes.Dependencies{
		DB:       db.DB,
		Config:   cfg,
		Analyses: svc.analyses,
		LLM:      svc.provider,
		Redis:    svc.redis,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	logger.Info("Starting financial document analysis server", map[string]interface{}{
		"port":         cfg.Server.Port,
		"gin_mode":     gin.Mode(),
		"llm_provider": svc.provider.Name(),
		"storage":      cfg.Storage.Backend,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("Shutting down server gracefully...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	svc.executor.Stop(ctx)
	svc.close()
	logger.Info("Server exited gracefully", nil)
}

// app holds the wired components owned by main.
type app struct {
	analyses  *services.AnalysisService
	executor  *services.Executor
	provider  llm.Provider
	cache     cache.Cache
	redis     *redis.Client
	publisher events.Publisher
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		logger.Warn("Failed to close event publisher", map[string]interface{}{"error": err.Error()})
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cache: cache.Noop{}, publisher: events.Noop{}}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache and rate limiting", map[string]interface{}{"error": err.Error()})
		} else {
			a.redis = client
			a.cache = cache.NewRedisCache(client, "findoc:")
		}
	}

	if cfg.Events.Enabled {
		pub, err := events.NewRabbitPublisher(cfg.Events.URL, cfg.Events.Exchange, cfg.Events.RoutingKey)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, job events will not be published", map[string]interface{}{"error": err.Error()})
		} else {
			a.publisher = pub
		}
	}

	a.provider, err = llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}

	jobs := services.NewJobStore(db.DB)
	docs := services.NewDocumentRepository(db.DB)
	history := services.NewHistoryRecorder(db.DB)

	a.executor = services.NewExecutor(
		jobs,
		extract.NewPDFExtractor(store, os.TempDir()),
		a.provider,
		services.NewTemplateSynthesizer(),
		services.WithWorkers(cfg.Analysis.Workers),
		services.WithQueueDepth(cfg.Analysis.QueueDepth),
		services.WithJobTimeout(cfg.Analysis.Timeout),
		services.WithMinResultLength(cfg.Analysis.MinResultLength),
		services.WithHistory(history),
		services.WithPublisher(a.publisher),
	)

	a.analyses = services.NewAnalysisService(services.AnalysisDeps{
		Gate:     services.NewIngestionGate(docs, store, cfg.Analysis.MaxFileSize),
		Docs:     docs,
		Jobs:     jobs,
		Executor: a.executor,
		Status:   services.NewStatusService(jobs, a.cache, cfg.Redis.ResultTTL, cfg.Analysis.ClientPollTimeout),
		History:  history,
	}, cfg.Analysis)

	return a, nil
}
