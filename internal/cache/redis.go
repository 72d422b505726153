package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig parameterizes the shared cache.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	PoolSize  int           `mapstructure:"pool_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RedisCache is a Cache over a shared Redis instance. Backend errors are
// logged and surfaced as misses so the pipeline never stalls on the cache.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *log.Logger
}

// NewRedisCache connects and pings the configured instance.
func NewRedisCache(cfg RedisConfig, logger *log.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect redis: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RedisCache{client: client, keyPrefix: cfg.KeyPrefix, logger: logger}, nil
}

func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := rc.client.Get(ctx, rc.keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			rc.logger.Printf("cache: get %s: %v", key, err)
		}
		return nil, false
	}
	return val, true
}

func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := rc.client.Set(ctx, rc.keyPrefix+key, value, ttl).Err(); err != nil {
		rc.logger.Printf("cache: set %s: %v", key, err)
	}
}

func (rc *RedisCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ok, err := rc.client.SetNX(ctx, rc.keyPrefix+key, value, ttl).Result()
	if err != nil {
		rc.logger.Printf("cache: setnx %s: %v", key, err)
		// A cache failure reads as "not seen": the pipeline is idempotent
		// without the fast path.
		return true
	}
	return ok
}

func (rc *RedisCache) Delete(ctx context.Context, key string) {
	if err := rc.client.Del(ctx, rc.keyPrefix+key).Err(); err != nil {
		rc.logger.Printf("cache: delete %s: %v", key, err)
	}
}

// Close releases the connection pool.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
