package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront-session/internal/models"

	"github.com/go-redis/redis/v8"
)

const watchedSetKey = "dispute:watched"

// WatchedDeadline is a dispute deadline the deadline worker tracks.
type WatchedDeadline struct {
	OrderID   string    `json:"order_id"`
	DisputeID string    `json:"dispute_id"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SaveGuestCart persists a guest cart so it survives instance restarts.
// Guests have no upstream mirror, so Redis is their only durability.
func (c *Client) SaveGuestCart(ctx context.Context, guestID string, lines []models.CartLine, ttl time.Duration) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("failed to marshal guest cart: %w", err)
	}
	return c.rdb.Set(ctx, guestCartKey(guestID), payload, ttl).Err()
}

// LoadGuestCart restores a guest cart. A missing key yields nil, nil.
func (c *Client) LoadGuestCart(ctx context.Context, guestID string) ([]models.CartLine, error) {
	payload, err := c.rdb.Get(ctx, guestCartKey(guestID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lines []models.CartLine
	if err := json.Unmarshal(payload, &lines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest cart: %w", err)
	}
	return lines, nil
}

// DeleteGuestCart drops a guest cart.
func (c *Client) DeleteGuestCart(ctx context.Context, guestID string) error {
	return c.rdb.Del(ctx, guestCartKey(guestID)).Err()
}

// CacheDisputeSnapshot stores the last fetched dispute for short-lived
// reads (countdown recomputation between full fetches).
func (c *Client) CacheDisputeSnapshot(ctx context.Context, orderID string, dispute *models.Dispute, ttl time.Duration) error {
	payload, err := json.Marshal(dispute)
	if err != nil {
		return fmt.Errorf("failed to marshal dispute snapshot: %w", err)
	}
	return c.rdb.Set(ctx, disputeKey(orderID), payload, ttl).Err()
}

// GetCachedDisputeSnapshot returns the cached dispute, or nil, nil when
// absent or expired.
func (c *Client) GetCachedDisputeSnapshot(ctx context.Context, orderID string) (*models.Dispute, error) {
	payload, err := c.rdb.Get(ctx, disputeKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dispute models.Dispute
	if err := json.Unmarshal(payload, &dispute); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispute snapshot: %w", err)
	}
	return &dispute, nil
}

// WatchDeadline registers a dispute deadline for the deadline worker.
func (c *Client) WatchDeadline(ctx context.Context, wd WatchedDeadline) error {
	payload, err := json.Marshal(wd)
	if err != nil {
		return fmt.Errorf("failed to marshal watched deadline: %w", err)
	}
	pipe := c.rdb.Pipeline()
	pipe.SAdd(ctx, watchedSetKey, wd.OrderID)
	pipe.Set(ctx, deadlineKey(wd.OrderID), payload, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// UnwatchDeadline removes a dispute from the watched set.
func (c *Client) UnwatchDeadline(ctx context.Context, orderID string) error {
	pipe := c.rdb.Pipeline()
	pipe.SRem(ctx, watchedSetKey, orderID)
	pipe.Del(ctx, deadlineKey(orderID))
	_, err := pipe.Exec(ctx)
	return err
}

// WatchedDeadlines lists every registered deadline. Entries whose
// detail key has vanished are skipped.
func (c *Client) WatchedDeadlines(ctx context.Context) ([]WatchedDeadline, error) {
	orderIDs, err := c.rdb.SMembers(ctx, watchedSetKey).Result()
	if err != nil {
		return nil, err
	}

	deadlines := make([]WatchedDeadline, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		payload, err := c.rdb.Get(ctx, deadlineKey(orderID)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var wd WatchedDeadline
		if err := json.Unmarshal(payload, &wd); err != nil {
			continue
		}
		deadlines = append(deadlines, wd)
	}
	return deadlines, nil
}

func guestCartKey(guestID string) string {
	return fmt.Sprintf("cart:guest:%s", guestID)
}

func disputeKey(orderID string) string {
	return fmt.Sprintf("dispute:snapshot:%s", orderID)
}

func deadlineKey(orderID string) string {
	return fmt.Sprintf("dispute:deadline:%s", orderID)
}
