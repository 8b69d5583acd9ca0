package storage

import (
	"context"
	"errors"
)

// ErrNotFound возвращается Get, если записи нет.
var ErrNotFound = errors.New("storage: not found")

// Store: локальное хранилище записей комнат (коллекция "mcf" и др.).
// Реализации: memory.Client, badger.Client, redis.Client, devstore.Client
// и repository.RecordRepository (Postgres).
type Store interface {
	Put(ctx context.Context, collection, id string, record any) error
	// Get декодирует запись в dst; при отсутствии возвращает ErrNotFound.
	Get(ctx context.Context, collection, id string, dst any) error
	Delete(ctx context.Context, collection, id string) error
	Keys(ctx context.Context, collection string) ([]string, error)
	Close() error
}
