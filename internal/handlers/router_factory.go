package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"levelquest/internal/config"
	"levelquest/internal/events"
	"levelquest/internal/middleware"
	"levelquest/internal/observability"
	"levelquest/internal/services"
	contextutils "levelquest/internal/utils"
	"levelquest/internal/worker"
)

const contentSecurityPolicy = "default-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'"

// RequestLogger logs every request through the observability logger, at a
// level chosen by the response status
func RequestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.route":       c.FullPath(),
			"http.status_code": statusCode,
			"http.latency_ms":  time.Since(start).Milliseconds(),
			"http.client_ip":   c.ClientIP(),
			"http.user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			fields["http.error_type"] = "server_error"
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		case statusCode >= 400:
			fields["http.error_type"] = "client_error"
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		default:
			logger.Info(c.Request.Context(), "HTTP request", fields)
		}
	}
}

// NewRouter builds the API engine. hub and wk may be nil: the websocket route
// is skipped without a hub and the worker admin endpoints are only mounted
// for an embedded worker.
func NewRouter(
	cfg *config.Config,
	gameService services.GameServiceInterface,
	progressService services.ProgressServiceInterface,
	statsService services.StatsServiceInterface,
	hub *events.Hub,
	wk *worker.Worker,
	logger *observability.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}
	middleware.RegisterValidation()

	router := gin.New()
	router.Use(middleware.ErrorRecoveryMiddleware(logger, &middleware.ErrorRecoveryConfig{
		EnableCircuitBreaker:    !cfg.IsTest,
		CircuitBreakerThreshold: 20,
		CircuitBreakerTimeout:   30 * time.Second,
	}))
	router.Use(RequestLogger(logger))

	// Health check endpoint (defined before any middleware)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "levelquest"})
	})

	router.Use(observability.GinMiddleware("levelquest-api"))
	router.Use(observability.GinErrorAttributes())

	router.RedirectTrailingSlash = false

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowCredentials = len(cfg.Server.CORSOrigins) > 0
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With", middleware.UserIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	store := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	sessionOpts := sessions.Options{
		Path:     config.SessionPath,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		HttpOnly: config.SessionHTTPOnly,
		Secure:   config.SessionSecure,
	}
	if cfg.Server.Debug {
		sessionOpts.SameSite = http.SameSiteDefaultMode
	} else {
		sessionOpts.SameSite = http.SameSiteLaxMode
		sessionOpts.Secure = true
	}
	store.Options(sessionOpts)
	router.Use(sessions.Sessions(config.SessionName, store))

	secureConfig := secure.DefaultConfig()
	secureConfig.SSLRedirect = false
	secureConfig.IsDevelopment = cfg.Server.Debug || cfg.IsTest
	secureConfig.ContentSecurityPolicy = contentSecurityPolicy
	router.Use(secure.New(secureConfig))

	gameHandler := NewGameHandler(gameService, logger)
	progressHandler := NewProgressHandler(progressService, statsService, logger)
	workerAdminHandler := NewWorkerAdminHandlerWithLogger(wk, logger)
	requireLearner := middleware.RequireLearner(cfg.Server.TrustUserHeader)

	v1 := router.Group("/v1")
	{
		v1.GET("/version", NewVersionHandler(cfg, wk != nil).GetVersion)

		session := v1.Group("/session")
		session.Use(requireLearner)
		{
			session.GET("", GetSession)
			session.POST("", PinSession)
			session.DELETE("", ClearSession)
		}

		game := v1.Group("/sessions")
		game.Use(requireLearner)
		{
			game.POST("", gameHandler.StartSession)
			game.GET("/current", gameHandler.GetCurrentSession)
			game.POST("/:id/answers", gameHandler.SubmitAnswer)
			game.POST("/:id/skip", gameHandler.SkipQuestion)
			game.POST("/:id/abandon", gameHandler.AbandonSession)
			game.GET("/:id/summary", gameHandler.GetSessionSummary)
		}

		progress := v1.Group("/progress")
		progress.Use(requireLearner)
		{
			progress.GET("/courses", progressHandler.ListCourses)
			progress.GET("/courses/:id", progressHandler.GetCourseProgress)
			progress.GET("/courses/:id/details", progressHandler.GetCourseProgressDetails)
			progress.GET("/levels/:id", progressHandler.GetLevelProgress)
		}

		v1.GET("/stats", requireLearner, progressHandler.GetUserStats)

		if hub != nil && cfg.Events.WebsocketEnabled {
			wsHandler := NewWebsocketHandler(hub, logger)
			v1.GET("/ws", requireLearner, wsHandler.Connect)
		}

		if wk != nil {
			workerAdminHandler.RegisterRoutes(v1.Group("/admin/worker"))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		HandleAppError(c, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	routeListing := NewRouteListingHandler("levelquest-api")
	router.GET("/", routeListing.Serve)
	routeListing.CollectRoutes(router)

	return router
}
