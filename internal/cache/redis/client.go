// Package redis provides an optional cross-process mirror for the
// deal-list mapping cache. When unavailable the mapping cache runs
// purely in memory.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func dealListKey(instance int) string {
	return fmt.Sprintf("deallist:%d", instance)
}

// SetDealList stores one instance's full mapping with a TTL.
func (c *Client) SetDealList(ctx context.Context, instance int, entries []models.DealEntry, ttl time.Duration) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal deal list: %w", err)
	}

	err = c.client.Set(ctx, dealListKey(instance), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set deal list cache: %w", err)
	}

	logger.Debug("Deal list cached", zap.Int("instance", instance), zap.Int("entries", len(entries)))
	return nil
}

// GetDealList fetches one instance's cached mapping. Found is false on a
// clean miss; errors are real transport or decode failures.
func (c *Client) GetDealList(ctx context.Context, instance int) ([]models.DealEntry, bool, error) {
	data, err := c.client.Get(ctx, dealListKey(instance)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get deal list cache: %w", err)
	}

	var entries []models.DealEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal deal list: %w", err)
	}

	logger.Debug("Deal list cache hit", zap.Int("instance", instance))
	return entries, true, nil
}

// InvalidateDealLists drops every cached mapping instance.
func (c *Client) InvalidateDealLists(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "deallist:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Deal list cache invalidated")
	return nil
}
