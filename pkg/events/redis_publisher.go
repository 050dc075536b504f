package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisPublisherLogPrefix = "events:redis_publisher"

// RedisPublisher keeps running usage counters in Redis hashes:
//
//	usage:<service>:applications  application -> requests
//	usage:<service>:status        status code -> requests
//	usage:<service>:duration_ms   application -> total milliseconds
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher on an existing client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid REDIS_URL: %w", redisPublisherLogPrefix, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s - failed to ping redis: %w", redisPublisherLogPrefix, err)
	}
	return client, nil
}

// UsageKey returns the hash key holding one counter family of service.
func UsageKey(service, family string) string {
	return "usage:" + service + ":" + family
}

// PublishUsage increments the counters for the event in one transaction.
func (p *RedisPublisher) PublishUsage(ctx context.Context, event *UsageEvent) error {
	app := event.ApplicationOrDefault()
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, UsageKey(event.Service, "applications"), app, 1)
		pipe.HIncrBy(ctx, UsageKey(event.Service, "status"), strconv.Itoa(event.StatusCode), 1)
		pipe.HIncrBy(ctx, UsageKey(event.Service, "duration_ms"), app, event.DurationMs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s - failed to record usage for %s: %w", redisPublisherLogPrefix, event.Service, err)
	}
	return nil
}
