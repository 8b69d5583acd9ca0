package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatroom/internal/logger"
)

// Backoff задаёт паузы между попытками подключения.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Sleep подменяется в тестах.
	Sleep func(time.Duration)
}

var DefaultBackoff = Backoff{Initial: 2 * time.Second, Max: 30 * time.Second, Sleep: time.Sleep}

// Retry вызывает connect, пока он не вернёт nil или не истечёт maxWait.
// logPrefix добавляется к сообщениям лога (например "chatd: ").
func Retry(what string, maxWait time.Duration, logPrefix string, b Backoff, connect func() error) error {
	if b.Sleep == nil {
		b.Sleep = time.Sleep
	}
	deadline := time.Now().Add(maxWait)
	backoff := b.Initial
	for attempt := 1; ; attempt++ {
		err := connect()
		if err == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			logger.Errorf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
			return fmt.Errorf("%s: gave up after %d attempts: %w", what, attempt, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		b.Sleep(backoff)
		if backoff < b.Max {
			backoff *= 2
		}
	}
}

func withTimeout(d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return fn(ctx)
}
