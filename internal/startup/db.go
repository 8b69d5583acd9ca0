package startup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
func ConnectDBWithRetry(poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := Retry("db connect", maxWait, logPrefix, DefaultBackoff, func() error {
		var err error
		err = withTimeout(10*time.Second, func(ctx context.Context) error {
			pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
			return err
		})
		if err != nil {
			return err
		}
		err = withTimeout(5*time.Second, pool.Ping)
		if err != nil {
			pool.Close()
			pool = nil
		}
		return err
	})
	return pool, err
}
