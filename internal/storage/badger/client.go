package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chatroom/internal/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// Client хранит записи в Badger, ключ "{collection}/{id}", значение в CBOR.
type Client struct {
	db *badger.DB
}

// Open открывает (или создаёт) базу в каталоге dir.
func Open(dir string) (*Client, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %s: %w", dir, err)
	}
	return &Client{db: db}, nil
}

// OpenInMemory открывает базу без диска (тесты, одноразовые сессии).
func OpenInMemory() (*Client, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger open in-memory: %w", err)
	}
	return &Client{db: db}, nil
}

func (c *Client) Close() error { return c.db.Close() }

func key(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func (c *Client) Put(ctx context.Context, collection, id string, record any) error {
	serialized, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("badger.Put %s/%s: %w", collection, id, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(collection, id), serialized)
	})
}

func (c *Client) Get(ctx context.Context, collection, id string, dst any) error {
	err := c.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(key(collection, id))
		if err != nil {
			return err
		}
		return i.Value(func(val []byte) error {
			return cbor.Unmarshal(val, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger.Get %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(collection, id))
	})
}

// Keys перебирает только ключи коллекции, значения не читаются.
func (c *Client) Keys(ctx context.Context, collection string) ([]string, error) {
	prefix := []byte(collection + "/")
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger.Keys %s: %w", collection, err)
	}
	sort.Strings(ids)
	return ids, nil
}
