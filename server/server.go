package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"qubix-server/auth"
	"qubix-server/confs"
	"qubix-server/handlers"
	httpHandler "qubix-server/handlers/http"
	"qubix-server/middleware"
	"qubix-server/usecases"
	"qubix-server/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const ServiceName = "qubix-server"

// Deps carries the wired application services the routes are served from.
type Deps struct {
	Auth      *usecases.AuthUseCase
	Jobs      *usecases.JobUseCase
	Providers *usecases.ProviderUseCase
	Stats     *usecases.StatsUseCase
	Queue     httpHandler.QueueView
	Health    httpHandler.HealthSource
	Qubic     httpHandler.QubicStatusSource
	Tokens    *auth.TokenManager
	WS        *ws.Manager
	Limiter   *middleware.RateLimiter
}

type Server struct {
	app  *gin.Engine
	cfg  *confs.Config
	deps Deps
	log  *slog.Logger
	http *http.Server
}

func NewServer(cfg *confs.Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{app: gin.New(), cfg: cfg, deps: deps, log: log}
	if err := s.app.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn("invalid TRUSTED_PROXIES, trusting none", "error", err)
		_ = s.app.SetTrustedProxies(nil)
	}
	s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.app,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) routes() {
	s.app.Use(
		gin.Recovery(),
		otelgin.Middleware(ServiceName),
		middleware.RequestLogger(s.log),
		middleware.ErrorLogger(s.log),
		middleware.PerformanceMonitor(s.log, time.Second),
	)

	// Setup CORS middleware
	config := cors.DefaultConfig()
	config.AllowOrigins = s.cfg.CORSOrigins()
	config.AllowCredentials = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	s.app.Use(cors.New(config))
	s.app.Use(middleware.Compression())

	// Initialize handlers
	authHandler := httpHandler.NewAuthHandler(s.deps.Auth)
	jobHandler := httpHandler.NewJobHandler(s.deps.Jobs, s.deps.Queue)
	providerHandler := httpHandler.NewProviderHandler(s.deps.Providers)
	systemHandler := httpHandler.NewSystemHandler(s.deps.Stats, s.deps.Health, s.deps.Qubic, s.cfg.Environment)
	wsHandler := handlers.NewWSHandler(s.deps.WS, s.deps.Providers, s.deps.Jobs, s.log)

	requireAuth := auth.RequireAuth(s.deps.Tokens)
	optionalAuth := auth.OptionalAuth(s.deps.Tokens)

	s.app.GET("/health", systemHandler.Health)
	s.app.GET("/health/details", systemHandler.HealthDetails)
	if !s.cfg.IsProduction() {
		s.app.GET("/", systemHandler.Root)
	}

	api := s.app.Group("/api", middleware.NoStore())
	if s.deps.Limiter != nil {
		api.Use(s.deps.Limiter.Middleware())
	}
	{
		api.GET("/stats", systemHandler.Stats)
		api.GET("/qubic/status", systemHandler.QubicStatus)
		api.GET("/ws/connected", wsHandler.Connected)

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register-email", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/login-email", authHandler.Login)
			authRoutes.GET("/me", requireAuth, authHandler.Me)
		}

		jobs := api.Group("/jobs")
		{
			jobs.GET("/queue", jobHandler.Queue)
			jobs.GET("/user/:userId", jobHandler.GetByUser)
			jobs.POST("/submit", optionalAuth, jobHandler.Submit)
			jobs.GET("/:id", jobHandler.Get)
			jobs.POST("/:id/progress", jobHandler.Progress)
			jobs.POST("/:id/complete", jobHandler.Complete)
			jobs.POST("/:id/fail", jobHandler.Fail)
			jobs.POST("/:id/cancel", requireAuth, jobHandler.Cancel)
		}

		providers := api.Group("/providers")
		{
			providers.GET("", providerHandler.List)
			providers.POST("/quick-register", optionalAuth, providerHandler.QuickRegister)
			providers.GET("/:id", providerHandler.Get)
			providers.POST("/:id/heartbeat", providerHandler.Heartbeat)
			providers.PATCH("/:id/active", providerHandler.SetActive)
			providers.GET("/:id/earnings", providerHandler.Earnings)
			providers.GET("/:id/metrics", providerHandler.Metrics)
		}
	}

	s.app.GET("/ws", auth.OptionalQueryAuth(s.deps.Tokens), wsHandler.HandleWS)

	if s.cfg.IsProduction() {
		s.frontend()
	}
	s.app.NoRoute(s.notFound)
}

const staticMaxAge = 24 * time.Hour

// frontend serves the built single page app with a one day cache.
func (s *Server) frontend() {
	dir := s.cfg.FrontendDir
	static := s.app.Group("/assets", middleware.CacheControl(staticMaxAge))
	static.Static("/", filepath.Join(dir, "assets"))
	s.app.GET("/", middleware.CacheControl(staticMaxAge), func(c *gin.Context) {
		c.File(filepath.Join(dir, "index.html"))
	})
}

// distFile resolves a request path to a regular file inside the frontend dir.
func (s *Server) distFile(reqPath string) (string, bool) {
	name := filepath.Join(s.cfg.FrontendDir, filepath.FromSlash(path.Clean("/"+reqPath)))
	info, err := os.Stat(name)
	if err != nil || info.IsDir() {
		return "", false
	}
	return name, true
}

func (s *Server) notFound(c *gin.Context) {
	reqPath := c.Request.URL.Path
	if strings.HasPrefix(reqPath, "/api") {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
		return
	}
	if s.cfg.IsProduction() && c.Request.Method == http.MethodGet {
		// files at the dist root (favicon, manifest) are cached like assets
		if file, ok := s.distFile(reqPath); ok {
			middleware.CacheControl(staticMaxAge)(c)
			c.File(file)
			return
		}
		c.File(filepath.Join(s.cfg.FrontendDir, "index.html"))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr, "environment", s.cfg.Environment)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
