package intent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "IntentMCP/internal/errors"
)

// RedisPublisherConfig describes the Redis connection for lifecycle events.
type RedisPublisherConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisPublisher pushes lifecycle events onto a Redis list so external
// consumers can drain them with BRPOP.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisPublisherConfig) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address must not be empty")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "intentmcp:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "connect to Redis")
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish serialises the event and pushes it onto the list, trimming the
// list so an absent consumer never grows it without bound.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "encode lifecycle event")
	}
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.stream, payload)
	pipe.LTrim(ctx, p.stream, 0, p.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "push lifecycle event to Redis")
	}
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
