package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Candidate  *handler.CandidateHandler
	Assessment *handler.AssessmentHandler
	Closure    *handler.ClosureHandler
	WS         *handler.WSHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	verifier *service.TokenVerifier,
	attemptLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Internal callbacks are tiny; compress everything else.
	brotliCfg := middleware.DefaultBrotliConfig
	brotliCfg.Skipper = func(c *gin.Context) bool {
		return strings.HasPrefix(c.Request.URL.Path, "/internal/")
	}
	router.Use(middleware.BrotliWithConfig(brotliCfg))

	router.GET("/health", handlers.System.Health)

	api := router.Group("/api/v1")

	// ─── 1. Candidate Group ────────────────────────────────────────────
	candidate := api.Group("/candidate/assessments/:assessment_id")
	candidate.Use(middleware.RequireCandidateJWT(verifier), middleware.NoStore())
	{
		candidate.GET("", handlers.Candidate.GetAssessment)
		candidate.POST("/start", handlers.Candidate.StartAssessment)
		candidate.GET("/progress", handlers.Candidate.GetProgress)
		candidate.POST("/end", handlers.Candidate.EndAssessment)

		candidate.POST("/sections/:section_number/start", handlers.Candidate.StartSection)
		candidate.POST("/sections/:section_number/end", handlers.Candidate.EndSection)

		attempts := candidate.Group("/questions/:question_id/attempt")
		attempts.Use(attemptLimiter.Middleware())
		{
			attempts.PUT("", handlers.Candidate.AttemptQuestion)
			attempts.DELETE("", handlers.Candidate.DeleteAttempt)
		}
	}

	// ─── 2. Admin Group ────────────────────────────────────────────────
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdminJWT(verifier))
	{
		assessments := admin.Group("/assessments")
		{
			read := middleware.RequireAnyPermission(service.PermissionAssessmentRead, service.PermissionAssessmentWrite)
			write := middleware.RequirePermission(service.PermissionAssessmentWrite)

			assessments.GET("", read, handlers.Assessment.ListAssessments)
			assessments.POST("", write, handlers.Assessment.CreateAssessment)
			assessments.GET("/:assessment_id", read, handlers.Assessment.GetAssessment)
			assessments.PATCH("/:assessment_id/schedule", write, handlers.Assessment.UpdateSchedule)
			assessments.DELETE("/:assessment_id", write, handlers.Assessment.DeleteAssessment)
			assessments.POST("/:assessment_id/close", write, handlers.Assessment.CloseAssessment)
			assessments.GET("/:assessment_id/results",
				middleware.RequirePermission(service.PermissionAssessmentResult),
				handlers.Assessment.GetResults)
		}

		admin.GET("/system/metrics",
			middleware.RequirePermission(service.PermissionAssessmentRead),
			handlers.System.SystemMetricsSSE)
	}

	// ─── 3. Internal Group (scheduler callbacks) ───────────────────────
	internal := router.Group("/internal/v1")
	internal.Use(middleware.RequireClosureSecret(cfg.ClosureCallbackSecret))
	{
		internal.POST("/closures", handlers.Closure.HandleClosure)
	}

	// ─── 4. WebSocket Group ────────────────────────────────────────────
	wsGroup := router.Group("/ws/v1/candidate")
	wsGroup.Use(middleware.RequireCandidateWSAuth(verifier))
	{
		wsGroup.GET("/assessments/:assessment_id/events", handlers.WS.AssessmentEvents)
	}

	return router
}
