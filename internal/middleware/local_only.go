package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// LocalOnly пропускает запросы только с loopback-адресов или с заголовком
// X-Chatd-Token, совпадающим с token. Локальный API управляет комнатами
// пользователя и не должен быть доступен из сети.
func LocalOnly(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Chatd-Token")), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if isLoopback(host) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func isLoopback(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.IsLoopback()
}
