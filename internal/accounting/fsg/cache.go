package fsg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

const (
	versionKey = "gl:fsg:version"
	// BumpChannel carries new cache versions to other processes.
	BumpChannel = "gl.bump"
)

// Cache stores generated grids in redis under a global version that is
// bumped whenever a journal posts.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache returns a cache. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising it when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, versionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey).Int64()
	}
	return ver, err
}

// Key builds the versioned key for one grid.
func (c *Cache) Key(ctx context.Context, reportID, ledgerID int64, period string) (string, error) {
	base := strings.Join([]string{"gl", "fsg", strconv.FormatInt(reportID, 10), strconv.FormatInt(ledgerID, 10), period}, ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", base, ver), nil
}

// Fetch loads the grid under key or builds and stores it.
func (c *Cache) Fetch(ctx context.Context, key string, build func(context.Context) (Grid, error)) (Grid, error) {
	if c == nil || c.client == nil {
		return build(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var grid Grid
		if err := json.Unmarshal(payload, &grid); err == nil {
			return grid, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Grid{}, err
	}
	grid, err := build(ctx)
	if err != nil {
		return Grid{}, err
	}
	raw, err := json.Marshal(grid)
	if err != nil {
		return Grid{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Grid{}, err
	}
	return grid, nil
}

// Bump invalidates every cached grid and announces the new version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// Invalidator returns a posting observer that bumps the cache version.
func (c *Cache) Invalidator(logger *slog.Logger) func(context.Context, accounting.Journal) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, journal accounting.Journal) {
		if err := c.Bump(ctx); err != nil {
			logger.Warn("fsg cache bump failed",
				slog.String("component", "fsg_cache"),
				slog.Int64("journal_id", journal.ID),
				slog.Any("error", err))
		}
	}
}

// Listen follows version bumps published by other processes until ctx ends.
func (c *Cache) Listen(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				current, err := c.client.Get(ctx, versionKey).Int64()
				if err == nil && current >= ver {
					continue
				}
				_ = c.client.Set(ctx, versionKey, ver, 0).Err()
			}
		}
	}()
}
