package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/chatroom/internal/storage"
)

// Client: хранилище в памяти (для -dev и тестов). Записи хранятся в JSON,
// чтобы вызывающий не мог изменить сохранённое значение по ссылке.
type Client struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func New() *Client {
	return &Client{data: make(map[string]map[string][]byte)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Put(ctx context.Context, collection, id string, record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("memory.Put %s/%s: %w", collection, id, err)
	}
	c.PutRaw(collection, id, b)
	return nil
}

// PutRaw сохраняет уже закодированную запись.
func (c *Client) PutRaw(collection, id string, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	coll, ok := c.data[collection]
	if !ok {
		coll = make(map[string][]byte)
		c.data[collection] = coll
	}
	coll[id] = b
}

func (c *Client) Get(ctx context.Context, collection, id string, dst any) error {
	b, ok := c.GetRaw(collection, id)
	if !ok {
		return storage.ErrNotFound
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("memory.Get %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetRaw возвращает JSON записи без декодирования.
func (c *Client) GetRaw(collection, id string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.data[collection][id]
	return b, ok
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data[collection], id)
	return nil
}

func (c *Client) Keys(ctx context.Context, collection string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.data[collection]))
	for k := range c.data[collection] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
