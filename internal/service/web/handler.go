package web

import (
	"encoding/json"
	"net/http"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/export"
)

// Handler serves the published pool.
type Handler struct {
	pool *PoolCache
}

func NewHandler(pool *PoolCache) *Handler {
	return &Handler{pool: pool}
}

// current returns the Clash YAML, loading it on first use.
func (h *Handler) current(w http.ResponseWriter) ([]byte, bool) {
	if data := h.pool.Clash(); data != nil {
		return data, true
	}
	if _, err := h.pool.Refresh(); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Error().Err(err).Msg("Failed to load pool.")
	}
	data := h.pool.Clash()
	if data == nil {
		http.Error(w, "Pool not available yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return data, true
}

// HandleSubscription 处理 GET /subscription，返回 base64 编码的 Clash 配置
func (h *Handler) HandleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, ok := h.current(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(export.Subscription(data)))
}

// HandleClash 处理 GET /clash.yaml
func (h *Handler) HandleClash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, ok := h.current(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Write(data)
}

// HandleStatus 处理 GET /api/status（公开）
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.pool.Clash() == nil {
		h.pool.Refresh()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.pool.Status()); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Error().Err(err).Msg("Failed to encode status.")
	}
}
