package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList records token ids (jti) that must no longer be accepted:
// access tokens of signed-out sessions and one-time link tokens already
// used. Entries only need to live as long as the token would.
type RevocationList interface {
	// Revoke marks jti as revoked for ttl.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error

	// IsRevoked reports whether jti was revoked.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Consume atomically revokes jti and reports whether this call was the
	// first to do so. Used for single-use tokens.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

const revocationKeyPrefix = "portal:revoked:"

// RedisRevocationList is a RevocationList shared by every server instance.
type RedisRevocationList struct {
	client *redis.Client
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisRevocationList connects to Redis and checks the connection.
// Commands are never retried.
func NewRedisRevocationList(ctx context.Context, opts RedisOptions) (*RedisRevocationList, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   -1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("auth: connecting to redis: %w", err)
	}
	return &RedisRevocationList{client: client}, nil
}

// NewRedisRevocationListWithClient wraps an existing client.
func NewRedisRevocationListWithClient(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

func (l *RedisRevocationList) key(jti string) string {
	return revocationKeyPrefix + jti
}

func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := l.client.Set(ctx, l.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("auth: revoking token: %w", err)
	}
	return nil
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := l.client.Get(ctx, l.key(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: checking revocation: %w", err)
	}
	return true, nil
}

func (l *RedisRevocationList) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := l.client.SetNX(ctx, l.key(jti), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: consuming token: %w", err)
	}
	return ok, nil
}

// Close closes the Redis client.
func (l *RedisRevocationList) Close() error {
	return l.client.Close()
}

var _ RevocationList = (*RedisRevocationList)(nil)

// MemoryRevocationList keeps revocations in process memory. It is only
// correct for a single server instance.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> expiry
	now     func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[jti] = l.now().Add(ttl)
	return nil
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveLocked(jti), nil
}

func (l *MemoryRevocationList) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.liveLocked(jti) {
		return false, nil
	}
	l.entries[jti] = l.now().Add(ttl)
	return true, nil
}

// liveLocked reports whether jti has an unexpired entry, pruning it if it
// expired. l.mu must be held.
func (l *MemoryRevocationList) liveLocked(jti string) bool {
	expiry, ok := l.entries[jti]
	if !ok {
		return false
	}
	if !l.now().Before(expiry) {
		delete(l.entries, jti)
		return false
	}
	return true
}

var _ RevocationList = (*MemoryRevocationList)(nil)
