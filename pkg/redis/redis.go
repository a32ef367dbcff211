package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ronitlabs/talktime/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New connects to Redis and verifies the connection. Session metering
// cannot run without the heartbeat store, so an unreachable Redis is fatal
// at startup.
func New(cfg config.Config, log *zap.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Named("redis").Info("connected",
		zap.String("addr", cfg.RedisAddr),
		zap.Int("db", cfg.RedisDB),
	)
	return client, nil
}

func registerHooks(lc fx.Lifecycle, client *goredis.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
}

// Module wires the shared Redis client.
var Module = fx.Module("redis",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
