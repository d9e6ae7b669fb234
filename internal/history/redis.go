package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in one Redis hash per namespace, for fleets where
// several hosts share a crash budget.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// putIfHigher only ever raises a counter, so racing processes cannot lower it.
var putIfHigher = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local incoming = tonumber(ARGV[2])
if incoming > current then
	redis.call('HSET', KEYS[1], ARGV[1], incoming)
	return incoming
end
return current
`)

// ConnectRedis initialises a client from a redis:// URL or a host:port address.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("redis address is required")
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisStore wraps client; the hash key is derived from namespace.
func NewRedisStore(client redis.UniversalClient, namespace string, timeout time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		key:     RedisKey(namespace),
		timeout: timeout,
	}
}

// RedisKey returns the hash key holding the namespace's counters.
func RedisKey(namespace string) string {
	return "crashguard:" + normaliseNamespace(namespace) + ":crash_counts"
}

// Get returns the stored count for version.
func (s *RedisStore) Get(ctx context.Context, version string) (int, error) {
	field, err := normaliseVersion(version)
	if err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get crash count: %w", err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode crash count %q: %w", raw, err)
	}
	return count, nil
}

// Put raises the counter for version to count.
func (s *RedisStore) Put(ctx context.Context, version string, count int) error {
	field, err := normaliseVersion(version)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := putIfHigher.Run(ctx, s.client, []string{s.key}, field, count).Err(); err != nil {
		return fmt.Errorf("put crash count: %w", err)
	}
	return nil
}

// List returns every counter in the namespace.
func (s *RedisStore) List(ctx context.Context) (map[string]int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list crash counts: %w", err)
	}
	out := make(map[string]int, len(data))
	for version, raw := range data {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			out[version] = n
		}
	}
	return out, nil
}

// Reset removes the counter for version.
func (s *RedisStore) Reset(ctx context.Context, version string) error {
	field, err := normaliseVersion(version)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.HDel(ctx, s.key, field).Err(); err != nil {
		return fmt.Errorf("reset crash count: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
