package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"sync-profile/internal/models"

	"github.com/go-redis/redis/v8"
)

const DefaultKeyPrefix = "pv:"

var ErrNotFound = errors.New("metric not found in redis")

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL of stored values; zero keeps them until overwritten.
	TTL time.Duration
}

// RedisClient stores the current value of each published metric under
// <prefix><name> and keeps the set of known names under <prefix>index.
type RedisClient struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisClient(ctx context.Context, opts Options) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisClient{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}, nil
}

func (r *RedisClient) Name() string { return "redis" }

func (r *RedisClient) key(name string) string {
	return r.prefix + name
}

func (r *RedisClient) indexKey() string {
	return r.prefix + "index"
}

// Publish implements publish.Sink.
func (r *RedisClient) Publish(ctx context.Context, m models.Metric) error {
	return r.StoreMetric(ctx, m)
}

func (r *RedisClient) StoreMetric(ctx context.Context, m models.Metric) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metric: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(m.Name), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), m.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store metric %s in Redis: %w", m.Name, err)
	}
	return nil
}

func (r *RedisClient) GetMetric(ctx context.Context, name string) (models.Metric, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Metric{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return models.Metric{}, fmt.Errorf("failed to get metric %s: %w", name, err)
	}

	var m models.Metric
	if err := json.Unmarshal(data, &m); err != nil {
		return models.Metric{}, fmt.Errorf("failed to unmarshal metric %s: %w", name, err)
	}
	return m, nil
}

// ListMetrics returns every stored metric sorted by name. Index entries whose
// value has expired are skipped.
func (r *RedisClient) ListMetrics(ctx context.Context) ([]models.Metric, error) {
	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read metric index: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = r.key(n)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	metrics := make([]models.Metric, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m models.Metric
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
