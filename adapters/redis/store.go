package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store bundles the pooled Redis client with the script host. Leaderboards
// borrow connections implicitly through the client's pool; pipelines run on a
// single connection each.
type Store struct {
	client  *redis.Client
	scripts *ScriptHost
}

// New creates a new Store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, scripts: NewScriptHost(client)}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, scripts: NewScriptHost(client)}
}

// Client exposes the underlying Redis client.
func (s *Store) Client() *redis.Client { return s.client }

// Scripts exposes the script host.
func (s *Store) Scripts() *ScriptHost { return s.scripts }

// Prepare loads the leaderboard scripts. Optional; script-backed operations
// load lazily on first use.
func (s *Store) Prepare(ctx context.Context) error {
	return s.scripts.Prepare(ctx)
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
