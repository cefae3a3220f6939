package routes

import (
	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/controllers"
	"github.com/findoc/backend/internal/llm"
	"github.com/findoc/backend/internal/middleware"
	"github.com/findoc/backend/internal/models"
	"github.com/findoc/backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Dependencies are the long-lived components the handlers need.
type Dependencies struct {
	DB       *gorm.DB
	Config   *config.Config
	Analyses *services.AnalysisService
	LLM      llm.Provider
	Redis    *redis.Client // nil disables rate limiting
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	authController := controllers.NewAuthController(deps.DB, deps.Config.Auth)
	userController := controllers.NewUserController(deps.DB)
	analysisController := controllers.NewAnalysisController(deps.Analyses)
	llmController := controllers.NewLLMController(deps.LLM)

	submitLimiter := middleware.RateLimiter(middleware.RateLimiterConfig{
		Client:    deps.Redis,
		Limit:     deps.Config.Redis.RateLimit,
		Window:    deps.Config.Redis.RateLimitWindow,
		KeyPrefix: "findoc:rl:submit:",
	})

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
			auth.POST("/register", authController.Register)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(deps.Config.Auth))
		{
			protected.POST("/auth/refresh", authController.RefreshToken)
			protected.POST("/auth/change-password", authController.ChangePassword)

			users := protected.Group("/users")
			{
				users.GET("/me", userController.GetCurrentUser)
				users.PUT("/me", userController.UpdateCurrentUser)
				users.GET("", middleware.RequireRole(models.RoleAdmin), userController.GetUsers)
			}

			analyses := protected.Group("/analyses")
			{
				analyses.POST("", submitLimiter, analysisController.SubmitAnalysis)
				analyses.GET("", analysisController.ListAnalyses)
				analyses.GET("/:id/status", analysisController.GetStatus)
				analyses.GET("/:id/result", analysisController.GetResult)
				analyses.GET("/:id/history", analysisController.GetHistory)
				analyses.DELETE("/:id", analysisController.DeleteAnalysis)
			}

			documents := protected.Group("/documents")
			{
				documents.GET("", analysisController.ListDocuments)
				documents.POST("", submitLimiter, analysisController.UploadDocument)
				documents.DELETE("/:id", analysisController.DeleteDocument)
				documents.POST("/:id/analyses", submitLimiter, analysisController.AnalyzeDocument)
			}

			protected.GET("/statistics", analysisController.GetStatistics)

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.POST("/users", userController.AddUser)
				admin.PUT("/users/:id/role", userController.UpdateUserRole)
				admin.DELETE("/users/:id", userController.RemoveUser)

				admin.GET("/analyses", analysisController.AdminListAnalyses)
				admin.GET("/jobs/:id", analysisController.GetJobDetails)
				admin.GET("/storage-stats", analysisController.GetStorageStats)

				admin.GET("/llm/status", llmController.GetLLMStatus)
				admin.GET("/llm-calls", llmController.GetLLMAPICalls)
				admin.DELETE("/llm-calls", llmController.ClearLLMAPICalls)
			}
		}
	}
}
