package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

const (
	keyPosition   = "beacon:position"
	keyLinkPrefix = "beacon:link:"
	keyKVPrefix   = "kv:"

	positionTTL = time.Hour
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client mirrors beacon state into Redis and doubles as a kv.Store
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// StorePosition mirrors the current beacon position
func (c *Client) StorePosition(ctx context.Context, pos *types.Position) error {
	return c.setJSON(ctx, keyPosition, pos, positionTTL)
}

// GetPosition returns the mirrored position, or nil when none is cached
func (c *Client) GetPosition(ctx context.Context) (*types.Position, error) {
	var pos types.Position
	found, err := c.getJSON(ctx, keyPosition, &pos)
	if err != nil || !found {
		return nil, err
	}
	return &pos, nil
}

// StoreLinkStatus records the latest link state of a bridge source
func (c *Client) StoreLinkStatus(ctx context.Context, status *types.ConnectionStatus) error {
	return c.setJSON(ctx, keyLinkPrefix+status.Source, status, 0)
}

// GetLinkStatus returns the recorded link state of source, or nil
func (c *Client) GetLinkStatus(ctx context.Context, source string) (*types.ConnectionStatus, error) {
	var status types.ConnectionStatus
	found, err := c.getJSON(ctx, keyLinkPrefix+source, &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// Get implements kv.Store
func (c *Client) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return c.getJSON(ctx, keyKVPrefix+key, dest)
}

// Set implements kv.Store; values do not expire
func (c *Client) Set(ctx context.Context, key string, value interface{}) error {
	return c.setJSON(ctx, keyKVPrefix+key, value, 0)
}

// Delete implements kv.Store
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyKVPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (c *Client) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// getJSON retrieves data from Redis and unmarshals it into the target
func (c *Client) getJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
