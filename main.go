package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qubix-server/auth"
	"qubix-server/cache"
	"qubix-server/confs"
	"qubix-server/db"
	"qubix-server/logging"
	"qubix-server/middleware"
	"qubix-server/qubic"
	"qubix-server/repositories"
	"qubix-server/server"
	"qubix-server/services"
	"qubix-server/telemetry"
	"qubix-server/usecases"
	"qubix-server/ws"
)

const version = "1.0.0"

func main() {
	// load config
	cfg, err := confs.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.IsProduction())
	if cfg.UsesDevSecret() {
		logger.Warn("JWT_SECRET not set, using development signing key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, server.ServiceName, version, cfg.OTELEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	// connect to database Postgres, fall back to memory when unavailable
	var (
		database db.Database
		repos    *repositories.Set
	)
	if cfg.HasDatabase() {
		database, err = db.Connect(ctx, cfg, logging.Component(logger, "db"))
		if err != nil {
			logger.Error("database unavailable, running with in-memory storage", "error", err)
			database = nil
		}
	}
	if database != nil {
		repos = repositories.NewPgSet(database)
	} else {
		logger.Warn("using in-memory storage, data is lost on restart")
		repos = repositories.NewMemorySet()
	}

	qubicClient := qubic.NewClient(cfg.QubicRPCURL, 5*time.Second)
	if err := qubicClient.Refresh(ctx); err != nil {
		logger.Warn("qubic rpc unreachable, using simulated network", "rpc", cfg.QubicRPCURL, "error", err)
	}

	manager := ws.NewManager(logging.Component(logger, "ws"))
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	metrics := cache.NewMetricsCache(120, 5, 2)

	// Initialize use cases
	escrow := usecases.NewEscrowUseCase(repos, qubicClient, manager, cfg.QubicPlatformAddress, cfg.PlatformFeePercent, logging.Component(logger, "escrow"))
	providers := usecases.NewProviderUseCase(repos, metrics, manager, logging.Component(logger, "providers"))
	jobs := usecases.NewJobUseCase(repos, providers, escrow, manager, logging.Component(logger, "jobs"))
	authUseCase := usecases.NewAuthUseCase(repos.Users, tokens, cfg.InitialBalance, logging.Component(logger, "auth"))
	stats := usecases.NewStatsUseCase(repos)

	// Background services
	queue := services.NewJobQueue(jobs, repos.Providers, cfg.DispatchInterval, logging.Component(logger, "dispatcher"))
	jobs.AttachQueue(queue)
	if n, err := queue.Restore(ctx); err != nil {
		logger.Error("restore job queue", "error", err)
	} else if n > 0 {
		logger.Info("job queue restored", "pending", n)
	}
	heartbeat := services.NewHeartbeatService(repos.Providers, providers, jobs, cfg.HeartbeatTimeout, cfg.HeartbeatInterval, logging.Component(logger, "heartbeat"))
	earnings := services.NewEarningsBroadcaster(repos, stats, manager, cfg.EarningsInterval, logging.Component(logger, "earnings"))
	health := services.NewHealthMonitor(database, qubicClient, manager, queue, cfg.HealthInterval, logging.Component(logger, "health"))

	queue.Start(ctx)
	heartbeat.Start(ctx)
	earnings.Start(ctx)
	health.Start(ctx)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	evictStop := make(chan struct{})
	go limiter.RunEviction(time.Minute, evictStop)

	// run server
	srv := server.NewServer(cfg, server.Deps{
		Auth:      authUseCase,
		Jobs:      jobs,
		Providers: providers,
		Stats:     stats,
		Queue:     queue,
		Health:    health,
		Qubic:     qubicClient,
		Tokens:    tokens,
		WS:        manager,
		Limiter:   limiter,
	}, logging.Component(logger, "http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	queue.Stop()
	heartbeat.Stop()
	earnings.Stop()
	health.Stop()
	close(evictStop)
	manager.CloseAll()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("flush traces", "error", err)
	}
	if database != nil {
		if err := database.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
	logger.Info("server stopped")
}
