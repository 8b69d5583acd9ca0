package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/chatroom/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Ключи: {prefix}{collection}:{id} хранит саму запись (JSON),
// {prefix}{collection}:__keys хранит множество id коллекции.
const defaultPrefix = "chatroom:"

type Client struct {
	cli    *redis.Client
	prefix string
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, prefix: defaultPrefix}, nil
}

// NewFromClient оборачивает готовый клиент (например, из тестов).
func NewFromClient(cli *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{cli: cli, prefix: prefix}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) key(collection, id string) string {
	return c.prefix + collection + ":" + id
}

func (c *Client) index(collection string) string {
	return c.prefix + collection + ":__keys"
}

// Put пишет запись и её id в индекс одной транзакцией.
func (c *Client) Put(ctx context.Context, collection, id string, record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis.Put %s/%s: %w", collection, id, err)
	}
	_, err = c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(collection, id), b, 0)
		pipe.SAdd(ctx, c.index(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.Put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, collection, id string, dst any) error {
	b, err := c.cli.Get(ctx, c.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis.Get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("redis.Get %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(collection, id))
		pipe.SRem(ctx, c.index(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.Delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *Client) Keys(ctx context.Context, collection string) ([]string, error) {
	ids, err := c.cli.SMembers(ctx, c.index(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.Keys %s: %w", collection, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// FlushDB очищает текущую БД Redis (для сброса при тестах/перезапуске).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
