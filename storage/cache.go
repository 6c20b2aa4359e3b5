package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	GetItem(ctx context.Context, itemID string) (domain.Item, bool, error)
	ListColumn(ctx context.Context, boardID, column string) ([]domain.Item, error)
	ListBoard(ctx context.Context, boardID string) ([]domain.Item, error)
	CommitPositions(ctx context.Context, boardID string, updates []domain.PositionUpdate) error
	InsertItem(ctx context.Context, item domain.Item, shifts []domain.PositionUpdate) error
	RemoveItem(ctx context.Context, boardID, itemID string, shifts []domain.PositionUpdate) error
	SetItemFields(ctx context.Context, boardID, itemID string, title, notes *string) error
	EnqueueEvent(ctx context.Context, payload []byte) error
}

// Cache wraps a Storage instance with Redis-backed caching of board
// snapshots. Only ListBoard is served from the cache: the ordering engine
// reads (GetItem, ListColumn) run under the board lock and must always
// see committed state. Every mutation evicts the board's snapshot.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) GetItem(ctx context.Context, itemID string) (domain.Item, bool, error) {
	return c.base.GetItem(ctx, itemID)
}

func (c *Cache) ListColumn(ctx context.Context, boardID, column string) ([]domain.Item, error) {
	return c.base.ListColumn(ctx, boardID, column)
}

func (c *Cache) ListBoard(ctx context.Context, boardID string) ([]domain.Item, error) {
	if items, ok := c.loadBoardFromCache(ctx, boardID); ok {
		return items, nil
	}

	items, err := c.base.ListBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.storeBoard(ctx, boardID, items)
	return items, nil
}

func (c *Cache) CommitPositions(ctx context.Context, boardID string, updates []domain.PositionUpdate) error {
	if err := c.base.CommitPositions(ctx, boardID, updates); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) InsertItem(ctx context.Context, item domain.Item, shifts []domain.PositionUpdate) error {
	if err := c.base.InsertItem(ctx, item, shifts); err != nil {
		return err
	}
	c.evict(ctx, item.BoardID)
	return nil
}

func (c *Cache) RemoveItem(ctx context.Context, boardID, itemID string, shifts []domain.PositionUpdate) error {
	if err := c.base.RemoveItem(ctx, boardID, itemID, shifts); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) SetItemFields(ctx context.Context, boardID, itemID string, title, notes *string) error {
	if err := c.base.SetItemFields(ctx, boardID, itemID, title, notes); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) EnqueueEvent(ctx context.Context, payload []byte) error {
	return c.base.EnqueueEvent(ctx, payload)
}

func (c *Cache) loadBoardFromCache(ctx context.Context, boardID string) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) storeBoard(ctx context.Context, boardID string, items []domain.Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
