package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamClient is the subset of the go-redis client the publisher needs.
// The abstraction keeps tests free of a real broker.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamsPublisher appends usage events to a Redis stream. Consumers
// (dashboards, alerting) read the stream with their own consumer groups;
// this process only ever writes.
type RedisStreamsPublisher struct {
	client StreamClient
	stream string
	maxLen int64
	logger *zap.Logger
}

// RedisStreamsConfig configures a RedisStreamsPublisher.
type RedisStreamsConfig struct {
	// Addr is the Redis server address.
	Addr string
	// DB is the Redis database number.
	DB int
	// Stream is the stream key events are appended to.
	Stream string
	// MaxLen caps the stream length (approximate trimming). Zero means 100000.
	MaxLen int64
}

// NewRedisStreamsPublisher connects to Redis and returns a publisher.
func NewRedisStreamsPublisher(cfg RedisStreamsConfig, logger *zap.Logger) *RedisStreamsPublisher {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	return NewRedisStreamsPublisherWithClient(client, cfg, logger)
}

// NewRedisStreamsPublisherWithClient returns a publisher over an existing
// client. Used by tests with miniredis.
func NewRedisStreamsPublisherWithClient(client StreamClient, cfg RedisStreamsConfig, logger *zap.Logger) *RedisStreamsPublisher {
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStreamsPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish appends the event to the stream. Failures are logged and swallowed:
// the usage record in the database is the source of truth, the stream is a
// best-effort mirror.
func (p *RedisStreamsPublisher) Publish(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal usage event", zap.Error(err))
		return
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(payload)},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		p.logger.Warn("failed to publish usage event to redis stream",
			zap.String("stream", p.stream), zap.Error(err))
	}
}

var _ Publisher = (*RedisStreamsPublisher)(nil)
