package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/handler"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/response"
)

// Auth is what the route guards need from the auth service.
type Auth interface {
	middleware.TokenValidator
	middleware.SessionValidator
}

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth Auth,
	handlers *Handlers,
	loginLimiter *middleware.RateLimiter,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	authGroup := router.Group("/api/v1/auth/student")
	{
		authGroup.POST("/login", loginLimiter.Middleware(), handlers.Auth.StudentLogin)

		session := authGroup.Group("")
		session.Use(middleware.RequireStudentJWT(auth), middleware.CheckSingleDeviceSession(auth))
		session.GET("/me", handlers.Auth.GetStudentProfile)
		session.POST("/logout", handlers.Auth.StudentLogout)
	}

	// ─── 2. Student Group (Student JWT + Single Device) ────────────────
	student := router.Group("/api/v1/student")
	student.Use(
		middleware.RequireStudentJWT(auth),
		middleware.CheckSingleDeviceSession(auth),
		middleware.NoStore(),
	)
	{
		student.POST("/exams/:exam_id/attempts", handlers.Attempt.StartAttempt)
		student.GET("/attempts/:attempt_id", handlers.Attempt.GetPaper)
		student.PUT("/attempts/:attempt_id/answers", handlers.Attempt.SaveAnswers)
		student.POST("/attempts/:attempt_id/violations", handlers.Attempt.ReportViolation)
		student.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		student.GET("/attempts/:attempt_id/result", handlers.Attempt.GetResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(auth), middleware.CheckSingleDeviceSession(auth))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
