package middleware

import (
	"net/http"
	"time"

	"github.com/chatroom/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, status и время выполнения (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
		if rw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d", r.Method, r.URL.Path, rw.status)
		}
	})
}
