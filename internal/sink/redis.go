package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/marko911/presale-pulse/internal/config"
)

// Redis appends each purchase to a capped stream and announces it on a
// pub/sub channel of the same name.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisSinkConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

func NewRedisWithClient(client *redis.Client, stream string, maxLen int64) *Redis {
	return &Redis{client: client, stream: stream, maxLen: maxLen}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal purchase: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Values: map[string]any{
			"delivery_id": msg.DeliveryID,
			"tx_hash":     msg.TxHash,
			"tier":        msg.Tier,
			"payload":     data,
		},
	})
	pipe.Publish(ctx, r.stream, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Close() {
	r.client.Close()
}
