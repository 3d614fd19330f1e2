package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/config"
	"github.com/quotaflow/quotaflow/internal/handler"
	"github.com/quotaflow/quotaflow/internal/limiter"
	"github.com/quotaflow/quotaflow/internal/middleware"
	"github.com/quotaflow/quotaflow/internal/storage/memory"
	redisstore "github.com/quotaflow/quotaflow/internal/storage/redis"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	store := initStorage(cfg, logger)
	l := limiter.NewLimiter(store, cfg.DefaultRequests, cfg.DefaultWindow)

	rateLimitMW := middleware.NewRateLimitMiddleware(l, logger, middleware.Options{
		TrustProxyHeaders: true,
	})
	// Tighter, route-scoped quota so hammering /api/strict does not eat into
	// the client's global allowance.
	strictMW := middleware.NewRateLimitMiddleware(l, logger, middleware.Options{
		MaxRequests:       10,
		WindowSeconds:     60,
		ScopeByPath:       true,
		TrustProxyHeaders: true,
	})
	admin := handler.NewAdminHandler(l, logger)

	r := chi.NewRouter()
	r.With(rateLimitMW.Handler).Get("/api/hello", handler.HelloHandler)
	r.With(strictMW.Handler).Get("/api/strict", handler.HelloHandler)
	r.Get("/api/status", handler.StatusHandler)
	r.Get("/api/limits/{identifier}", admin.Usage)
	r.Delete("/api/limits/{identifier}", admin.Reset)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func initStorage(cfg *config.Config, logger *zap.Logger) limiter.Store {
	switch cfg.StorageType {
	case config.StorageRedis:
		return initRedisStorage(cfg, logger)
	default:
		logger.Info("using in-memory storage")
		return memory.NewMemoryStore()
	}
}

func initRedisStorage(cfg *config.Config, logger *zap.Logger) limiter.Store {
	logger.Info("connecting to Redis", zap.String("addr", cfg.Redis.Addr()))

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,

		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,

		// The store sits on the critical path of every guarded request, so
		// keep the round-trip budget tight.
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}

	logger.Info("successfully connected to Redis")
	return redisstore.NewRedisStore(rdb)
}
