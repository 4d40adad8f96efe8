package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arqady01/chatllm/internal/model"
)

const (
	redisMessagesKey      = "chatllm:messages"
	redisConversationsKey = "chatllm:conversations"
	redisConfigKey        = "chatllm:config"
)

// RedisBackend keeps each collection as one JSON value, mirroring a
// key-value store on a device.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to url and pings the server.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisBackendWithClient(client), nil
}

func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) LoadMessages(ctx context.Context) ([]model.Message, error) {
	msgs := []model.Message{}
	if err := b.get(ctx, redisMessagesKey, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (b *RedisBackend) SaveMessages(ctx context.Context, msgs []model.Message) error {
	return b.set(ctx, redisMessagesKey, msgs)
}

func (b *RedisBackend) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	convs := []model.Conversation{}
	if err := b.get(ctx, redisConversationsKey, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (b *RedisBackend) SaveConversations(ctx context.Context, convs []model.Conversation) error {
	return b.set(ctx, redisConversationsKey, convs)
}

func (b *RedisBackend) LoadConfig(ctx context.Context) (*model.ChatConfig, error) {
	data, err := b.client.Get(ctx, redisConfigKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg model.ChatConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func (b *RedisBackend) SaveConfig(ctx context.Context, cfg model.ChatConfig) error {
	return b.set(ctx, redisConfigKey, cfg)
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	if err := b.client.Del(ctx, redisMessagesKey, redisConversationsKey, redisConfigKey).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) get(ctx context.Context, key string, v any) error {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := b.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
