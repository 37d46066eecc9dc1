package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/boomfest/boom-tickets/internal/adapters/crdb"
	redisadapter "github.com/boomfest/boom-tickets/internal/adapters/redis"
	"github.com/boomfest/boom-tickets/internal/config"
	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DemoMode() || cfg.RedisAddr == "" {
		log.Fatal("cache warmer needs CRDB_DSN and REDIS_ADDR")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("component", "cache-warmer")

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	orderCache := redisadapter.NewOrderCache(redisadapter.NewCache(redisClient), repo, cfg.OrderCacheTTL)

	if cfg.CacheWarmInterval >= cfg.OrderCacheTTL {
		logger.Warn("CACHE_WARM_INTERVAL is not shorter than ORDER_CACHE_TTL, warm entries will expire between runs")
	}

	worker := NewCacheWarmer(repo, orderCache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.CacheWarmInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown cache warmer")
}

type Warmer interface {
	Warm(ctx context.Context, orders []domain.Order) error
}

// CacheWarmer preloads approved orders into the advisory cache so door
// devices resolve scans without a store round trip for the first read.
type CacheWarmer struct {
	store     domain.OrderStore
	cache     Warmer
	logger    observability.Logger
	batchSize int
}

func NewCacheWarmer(store domain.OrderStore, cache Warmer, logger observability.Logger) *CacheWarmer {
	return &CacheWarmer{store: store, cache: cache, logger: logger, batchSize: 200}
}

func (w *CacheWarmer) Run(ctx context.Context, interval time.Duration) {
	w.warm(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.warm(ctx)
		}
	}
}

func (w *CacheWarmer) warm(ctx context.Context) {
	n, err := w.WarmOnce(ctx)
	if err != nil {
		w.logger.WithError(err).Error("failed to warm order cache")
		return
	}
	w.logger.WithField("orders", n).Debug("order cache warmed")
}

// WarmOnce loads every approved order that has not been checked in and writes
// them to the cache in parallel batches.
func (w *CacheWarmer) WarmOnce(ctx context.Context) (int, error) {
	orders, err := w.store.ListOrders(ctx, domain.OrderFilter{Status: domain.StatusApproved, Limit: -1})
	if err != nil {
		return 0, err
	}
	admissible := orders[:0]
	for _, o := range orders {
		if o.Admissible() {
			admissible = append(admissible, o)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(admissible); start += w.batchSize {
		batch := admissible[start:min(start+w.batchSize, len(admissible))]
		g.Go(func() error {
			return w.warmBatchWithRetry(gctx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(admissible), nil
}

func (w *CacheWarmer) warmBatchWithRetry(ctx context.Context, batch []domain.Order) error {
	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = w.cache.Warm(ctx, batch); err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * 200 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(err, "warm batch of %d orders after %d attempts", len(batch), maxRetries)
}
