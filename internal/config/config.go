package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	HTTPAddr    string
	LogLevel    string

	CRDBDSN   string
	MongoURI  string
	MongoDB   string
	RedisAddr string
	RabbitURL string

	JWTSecret         string
	AdminPasswordHash string
	SessionTTL        time.Duration

	OrderCacheTTL     time.Duration
	CacheWarmInterval time.Duration
	IdempotencyTTL    time.Duration
	ListLimit         int

	OTLPEndpoint string
}

// Load reads the environment (and .env when present). Malformed durations
// and integers are errors; unset ones take their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		ServiceName:       getenv("SERVICE_NAME", "boom-tickets"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		CRDBDSN:           os.Getenv("CRDB_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getenv("MONGO_DB", "boom"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		SessionTTL:        p.duration("SESSION_TTL", 12*time.Hour),
		OrderCacheTTL:     p.duration("ORDER_CACHE_TTL", 30*time.Second),
		CacheWarmInterval: p.duration("CACHE_WARM_INTERVAL", 20*time.Second),
		IdempotencyTTL:    p.duration("IDEMPOTENCY_TTL", time.Hour),
		ListLimit:         p.integer("LIST_LIMIT", 500),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// ValidateAPI checks the settings only the HTTP API needs: operator login
// signs sessions with JWTSecret and checks AdminPasswordHash.
func (c *Config) ValidateAPI() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if c.AdminPasswordHash == "" {
		return errors.New("ADMIN_PASSWORD_HASH is required")
	}
	return nil
}

// DemoMode is true when no database is configured; orders live in memory.
func (c *Config) DemoMode() bool {
	return c.CRDBDSN == ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type parser struct {
	err error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = errors.CombineErrors(p.err, errors.Wrapf(err, "%s", key))
		return def
	}
	if d <= 0 {
		p.err = errors.CombineErrors(p.err, errors.Newf("%s must be positive, got %s", key, v))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.err = errors.CombineErrors(p.err, errors.Newf("%s must be a positive integer, got %q", key, v))
		return def
	}
	return n
}
