package startup

import (
	"time"

	badgerstorage "github.com/chatroom/internal/storage/badger"
)

// OpenBadgerWithRetry открывает каталог Badger; повтор нужен, пока прежний
// процесс ещё держит блокировку каталога.
func OpenBadgerWithRetry(dir string, maxWait time.Duration, logPrefix string) (*badgerstorage.Client, error) {
	var client *badgerstorage.Client
	err := Retry("badger open", maxWait, logPrefix, DefaultBackoff, func() error {
		var err error
		client, err = badgerstorage.Open(dir)
		return err
	})
	return client, err
}
