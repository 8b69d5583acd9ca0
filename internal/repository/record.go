package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordRepository хранит записи комнат в Postgres (таблица room_records, JSONB).
// Реализует storage.Store для бэкенда postgres и для -dev.
type RecordRepository struct {
	pool *pgxpool.Pool
}

func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// Close закрывает пул соединений.
func (r *RecordRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *RecordRepository) Put(ctx context.Context, collection, id string, record any) error {
	defer logger.DeferLogDuration("record.Put", time.Now())()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("recordRepo.Put: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO room_records (collection, id, data, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (collection, id) DO UPDATE SET
		   data = EXCLUDED.data,
		   updated_at = EXCLUDED.updated_at`,
		collection, id, data,
	)
	if err != nil {
		return fmt.Errorf("recordRepo.Put: %w", err)
	}
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, collection, id string, dst any) error {
	defer logger.DeferLogDuration("record.Get", time.Now())()
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM room_records WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("recordRepo.Get: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("recordRepo.Get: %w", err)
	}
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, collection, id string) error {
	defer logger.DeferLogDuration("record.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM room_records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("recordRepo.Delete: %w", err)
	}
	return nil
}

func (r *RecordRepository) Keys(ctx context.Context, collection string) ([]string, error) {
	defer logger.DeferLogDuration("record.Keys", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT id FROM room_records WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("recordRepo.Keys: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("recordRepo.Keys: %w", err)
	}
	return ids, nil
}

// Migrate применяет встроенные миграции по порядку имён файлов.
func (r *RecordRepository) Migrate(ctx context.Context, files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("recordRepo.Migrate: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := r.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}
