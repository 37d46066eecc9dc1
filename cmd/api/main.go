package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/boomfest/boom-tickets/internal/adapters/crdb"
	"github.com/boomfest/boom-tickets/internal/adapters/memory"
	mongoadapter "github.com/boomfest/boom-tickets/internal/adapters/mongo"
	redisadapter "github.com/boomfest/boom-tickets/internal/adapters/redis"
	"github.com/boomfest/boom-tickets/internal/auth"
	"github.com/boomfest/boom-tickets/internal/checkin"
	"github.com/boomfest/boom-tickets/internal/config"
	"github.com/boomfest/boom-tickets/internal/domain"
	httphandler "github.com/boomfest/boom-tickets/internal/http"
	"github.com/boomfest/boom-tickets/internal/idempotency"
	"github.com/boomfest/boom-tickets/internal/lifecycle"
	"github.com/boomfest/boom-tickets/internal/observability"
	"github.com/boomfest/boom-tickets/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("invalid api config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)
	ready := map[string]httphandler.Pinger{}

	var store domain.OrderStore
	if cfg.DemoMode() {
		logger.Warn("CRDB_DSN not set, running with the in-memory demo store")
		store = memory.NewStore()
	} else {
		pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		if err := crdb.Migrate(context.Background(), pool); err != nil {
			log.Fatalf("failed to apply schema: %v", err)
		}
		repo := crdb.NewRepository(pool)
		store = repo
		ready["crdb"] = repo
	}

	var catalog domain.Catalog = domain.NewStaticCatalog(domain.DefaultTiers)
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		catalog = mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDB), catalog, logger)
	}

	var (
		reader domain.OrderReader
		cache  lifecycle.Invalidator
		idemp  *idempotency.Idempotency
		rl     *rateLimit.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		orderCache := redisadapter.NewOrderCache(redisCache, store, cfg.OrderCacheTTL)
		reader, cache = orderCache, orderCache
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		rl = rateLimit.NewRateLimiter(redisCache)
		ready["redis"] = redisCache
	}

	manager := lifecycle.NewManager(store, catalog, logger,
		lifecycle.WithCache(cache),
		lifecycle.WithListLimit(cfg.ListLimit),
	)
	handlers := httphandler.NewHandlers(httphandler.Deps{
		Manager:     manager,
		Catalog:     catalog,
		Validator:   checkin.NewValidator(reader, store, logger),
		Committer:   checkin.NewCommitter(store, cache, logger),
		Auth:        auth.NewPasswordAuthenticator(cfg.AdminPasswordHash, cfg.JWTSecret, cfg.SessionTTL),
		Idempotency: idemp,
		Ready:       ready,
		Logger:      logger,
	})

	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
