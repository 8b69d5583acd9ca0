package handler

import (
	"net/http"

	"github.com/chatroom/internal/call"
	"github.com/chatroom/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту UI.
type ConfigHandler struct {
	cfg   *config.Config
	calls *call.Manager
}

func NewConfigHandler(cfg *config.Config, calls *call.Manager) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, calls: calls}
}

func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"self":                       h.cfg.SelfHandle,
		"history_page_size":          h.cfg.HistoryPageSize,
		"dont_resend_older_than_sec": int(h.cfg.DontResendOlderThan.Seconds()),
		"store_backend":              h.cfg.Store.Backend,
	})
}

// GetCallConfig возвращает ICE-серверы, полученные от load balancer, и активные звонки.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers": h.calls.ICEServers(),
		"calls":       h.calls.Calls(),
	})
}
