package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/handler"
	"github.com/stemsi/clipexam-backend/internal/middleware"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Exam   *handler.ExamHandler
	Admin  *handler.AdminHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// Options carries the optional pieces of the router.
type Options struct {
	Log zerolog.Logger
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// AuthLimiter rate-limits the login routes when set.
	AuthLimiter *middleware.RateLimiter
	// PaperMaxAge is the client cache lifetime of exam papers, in seconds.
	PaperMaxAge int
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	opts Options,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware(opts.Log))

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	router.GET("/health", handlers.System.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	if opts.AuthLimiter != nil {
		auth.Use(opts.AuthLimiter.Middleware())
	}
	{
		auth.POST("/operator/verify", handlers.Auth.VerifyOperator)
		auth.POST("/admin/login", handlers.Auth.AdminLogin)

		auth.GET("/operator/me",
			middleware.RequireOperatorJWT(authService),
			middleware.CheckSingleDeviceSession(authService),
			handlers.Auth.GetOperatorProfile,
		)
		auth.POST("/operator/logout",
			middleware.RequireOperatorJWT(authService),
			middleware.CheckSingleDeviceSession(authService),
			handlers.Auth.OperatorLogout,
		)
	}

	// ─── 2. Operator Group (JWT + Single Device) ───────────────────────
	operatorAPI := router.Group("/api/v1/operator")
	operatorAPI.Use(
		middleware.RequireOperatorJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		paperCache := middleware.NoStore()
		if opts.PaperMaxAge > 0 {
			paperCache = middleware.CacheControl(opts.PaperMaxAge)
		}
		operatorAPI.GET("/exams/:exam_code", paperCache, handlers.Exam.GetExamPaper)

		ledger := operatorAPI.Group("/exams/:exam_code")
		ledger.Use(middleware.NoStore())
		{
			ledger.GET("/attempt", handlers.Exam.GetCurrentAttempt)
			ledger.POST("/results", handlers.Exam.RecordClipResult)
			ledger.POST("/finalize", handlers.Exam.FinalizeAttempt)
		}
	}

	// ─── 3. WebSocket Group (Operator WS Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireOperatorWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/operator/exams/:exam_code/run", handlers.WS.ExamRunStream)
	}

	// ─── 4. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		adminAPI.GET("/results", middleware.Brotli(), handlers.Admin.GetResultsAnalysis)
		adminAPI.GET("/exams", handlers.Admin.ListExamCodes)
		adminAPI.POST("/exams/:exam_code/schema", handlers.Admin.EnsureSchema)
		adminAPI.DELETE("/exams/:exam_code/attempts/:user_id", handlers.Admin.ResetAttempt)
		adminAPI.PUT("/clips", handlers.Admin.UpsertClip)
		adminAPI.DELETE("/operators/:operator_id/session", handlers.Admin.ResetOperatorSession)

		adminAPI.GET("/system/status", handlers.System.Status)
	}

	return router
}
