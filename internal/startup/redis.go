package startup

import (
	"context"
	"time"

	redisstorage "github.com/chatroom/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := Retry("redis connect", maxWait, logPrefix, DefaultBackoff, func() error {
		return withTimeout(5*time.Second, func(ctx context.Context) error {
			var err error
			client, err = redisstorage.New(ctx, redisURL)
			return err
		})
	})
	return client, err
}
