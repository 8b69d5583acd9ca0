package devstore

import (
	"context"
	"errors"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/storage"
	"github.com/chatroom/internal/storage/memory"
)

// Client обслуживает режим -dev: чтения обслуживает память, запись идёт сразу в память
// и в durable-хранилище (Postgres во встроенном режиме), чтобы комнаты
// переживали перезапуск.
type Client struct {
	mem     *memory.Client
	durable storage.Store
}

func New(durable storage.Store) *Client {
	return &Client{mem: memory.New(), durable: durable}
}

func (c *Client) Close() error {
	return errors.Join(c.mem.Close(), c.durable.Close())
}

func (c *Client) Put(ctx context.Context, collection, id string, record any) error {
	if err := c.durable.Put(ctx, collection, id, record); err != nil {
		return err
	}
	return c.mem.Put(ctx, collection, id, record)
}

func (c *Client) Get(ctx context.Context, collection, id string, dst any) error {
	err := c.mem.Get(ctx, collection, id, dst)
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := c.durable.Get(ctx, collection, id, dst); err != nil {
		return err
	}
	if err := c.mem.Put(ctx, collection, id, dst); err != nil {
		logger.Errorf("devstore: cache %s/%s: %v", collection, id, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.durable.Delete(ctx, collection, id); err != nil {
		return err
	}
	return c.mem.Delete(ctx, collection, id)
}

// Keys всегда берёт список из durable: в памяти есть только записи,
// которые уже читались или писались в этом процессе.
func (c *Client) Keys(ctx context.Context, collection string) ([]string, error) {
	return c.durable.Keys(ctx, collection)
}
