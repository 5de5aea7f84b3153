package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "docingest:lock:"
	DefaultRedisTTL    = 2 * time.Minute
)

// Redis implements Manager with SETNX and a TTL so that several processes
// sharing one document store never run the same document concurrently.
// A held lock is refreshed in the background until released.
type Redis struct {
	client  *redis.Client
	ownerID string
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
}

var _ Manager = (*Redis)(nil)

// RedisOption customizes a Redis lock manager
type RedisOption func(*Redis)

// WithPrefix sets the key namespace
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL sets the lease length. The lease is extended every ttl/3 while held.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithLogger sets the logger used for refresh and release failures
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

// NewRedis creates a Redis-backed lock manager with a unique owner ID
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		ownerID: generateOwnerID(),
		prefix:  DefaultRedisPrefix,
		ttl:     DefaultRedisTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "lock", "owner", r.ownerID)
	return r
}

// generateOwnerID creates a unique identifier for this lock holder.
// Format: hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

// OwnerID returns the identifier written into held keys
func (r *Redis) OwnerID() string {
	return r.ownerID
}

// releaseScript deletes the key only if this owner still holds it
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript extends the TTL only if this owner still holds the key
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (r *Redis) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, r.ownerID, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	go r.refresh(full, stop)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := releaseScript.Run(rctx, r.client, []string{full}, r.ownerID).Result()
			if err != nil && err != redis.Nil {
				r.logger.Warn("release lock failed", "key", key, "error", err)
			}
		})
	}
	return release, true, nil
}

// refresh keeps the lease alive until stop is closed or ownership is lost
func (r *Redis) refresh(full string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			res, err := extendScript.Run(ctx, r.client, []string{full}, r.ownerID, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				r.logger.Warn("extend lock failed", "key", full, "error", err)
				continue
			}
			if res == 0 {
				r.logger.Warn("lock lost", "key", full)
				return
			}
		}
	}
}

func (r *Redis) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Held(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan locks: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping checks if the Redis backend is healthy
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
