package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/lhrunner/types"
)

// DefaultKey is the default redis key holding the cursor.
const DefaultKey = "lhrunner:cursor"

// DefaultRedisTimeout is the default per-operation timeout.
const DefaultRedisTimeout = 5 * time.Second

// RedisConfig configures the redis store.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Key holds the cursor JSON (default lhrunner:cursor).
	Key string
	// Timeout is the per-operation timeout (default 5s).
	Timeout time.Duration
}

// RedisStore keeps the cursor under a single redis key. SET replaces the
// value atomically.
type RedisStore struct {
	config RedisConfig
	client *goredis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis cursor store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis cursor store: invalid URL: %w", err)
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}
	return &RedisStore{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (types.Cursor, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.config.Key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return types.DefaultCursor(), nil
	}
	if err != nil {
		return types.Cursor{}, fmt.Errorf("redis: get %s: %w", s.config.Key, err)
	}
	return Decode(data)
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, c types.Cursor) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.config.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", s.config.Key, err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
