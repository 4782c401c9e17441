package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps token records as JSON strings under a configurable key
// prefix. 一条记录一个 key，列举走 SCAN+MGET。
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a new Redis storage backend
func NewRedisBackend(addr, password string, db int, prefix string) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = "keyrelay:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) tokenKey(id string) string {
	return r.prefix + "token:" + id
}

func (r *RedisBackend) GetToken(ctx context.Context, id string) (map[string]interface{}, error) {
	data, err := r.client.Get(ctx, r.tokenKey(id)).Result()
	if err == redis.Nil {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", id, err)
	}
	return doc, nil
}

func (r *RedisBackend) SetToken(ctx context.Context, id string, doc map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("empty token id")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", id, err)
	}
	return r.client.Set(ctx, r.tokenKey(id), data, 0).Err()
}

func (r *RedisBackend) DeleteToken(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.tokenKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Key: id}
	}
	return nil
}

func (r *RedisBackend) ListTokens(ctx context.Context) (map[string]map[string]interface{}, error) {
	keys, err := r.scanKeys(ctx, r.prefix+"token:*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("decode token key %s: %w", keys[i], err)
		}
		id := keys[i][len(r.prefix+"token:"):]
		out[id] = doc
	}
	return out, nil
}

func (r *RedisBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	keys, err := r.scanKeys(ctx, r.prefix+"token:*")
	if err != nil {
		return StorageStats{Backend: "redis"}, err
	}
	return StorageStats{
		Backend:    "redis",
		Healthy:    r.Health(ctx) == nil,
		TokenCount: len(keys),
	}, nil
}

func (r *RedisBackend) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
