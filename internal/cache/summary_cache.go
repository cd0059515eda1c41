// Package cache provides a short-TTL redis cache for claimable summaries.
// Summaries are cheap to recompute but the dashboard polls them aggressively;
// the cache absorbs that read load. Claims bypass it: entitlement checks
// always recompute.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/veritaslabs/yieldengine/internal/domain"
)

// SummaryCache caches per-account claimable summaries in redis
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache connects to redis and verifies the connection
func NewSummaryCache(addr, password string, db int, ttl time.Duration) (*SummaryCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &SummaryCache{client: rdb, ttl: ttl}, nil
}

// NewSummaryCacheWithClient wraps an existing client; used by tests
func NewSummaryCacheWithClient(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(accountID string) string {
	return "yield:summary:" + accountID
}

// Get returns the cached summary for an account, with found=false on miss
func (c *SummaryCache) Get(ctx context.Context, accountID string) (*domain.Summary, bool, error) {
	val, err := c.client.Get(ctx, summaryKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var summary domain.Summary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached summary: %w", err)
	}

	return &summary, true, nil
}

// Set stores a summary with the configured TTL
func (c *SummaryCache) Set(ctx context.Context, summary domain.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	if err := c.client.Set(ctx, summaryKey(summary.AccountID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Invalidate drops the cached summary for an account; called after a
// successful claim so the next read reflects the debit
func (c *SummaryCache) Invalidate(ctx context.Context, accountID string) error {
	if err := c.client.Del(ctx, summaryKey(accountID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close releases the redis connection
func (c *SummaryCache) Close() error {
	return c.client.Close()
}
