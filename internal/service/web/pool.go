package web

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"irproxy_pool/internal/shared/globalstate"
	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/export"
	"irproxy_pool/proxypool/stats"
	"irproxy_pool/proxypool/storage"
)

// PoolStatus is the public view of the published pool.
type PoolStatus struct {
	Status    string           `json:"status"`
	StatusAt  time.Time        `json:"status_at"`
	LoadedAt  time.Time        `json:"loaded_at"`
	Metadata  storage.Metadata `json:"metadata"`
	Analysis  stats.Analysis   `json:"analysis"`
	Proxies   int              `json:"exported_proxies"`
	Subscribe string           `json:"subscription_url"`
}

// PoolCache 缓存最近一次加载的代理池以及由它生成的 Clash 配置。
// 数据文件的修改时间变化后才会重新加载。
type PoolCache struct {
	store storage.Storage
	path  string
	opts  export.Options
	now   func() time.Time

	mu      sync.RWMutex
	modTime time.Time
	clash   []byte
	status  PoolStatus
}

func NewPoolCache(store storage.Storage, path string, opts export.Options) *PoolCache {
	return &PoolCache{
		store: store,
		path:  path,
		opts:  opts,
		now:   time.Now,
	}
}

// Refresh reloads the pool when the data file changed since the last load.
func (c *PoolCache) Refresh() (changed bool, err error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			globalstate.GlobalStatus.Set("Waiting for the first pool update.")
			return false, nil
		}
		return false, err
	}

	c.mu.RLock()
	same := c.clash != nil && info.ModTime().Equal(c.modTime)
	c.mu.RUnlock()
	if same {
		return false, nil
	}

	doc, err := c.store.Load()
	if err != nil {
		globalstate.GlobalStatus.Set("Failed to load pool: " + err.Error())
		return false, err
	}
	cfg := export.BuildClash(doc.Proxies, c.opts)
	data, err := cfg.Marshal()
	if err != nil {
		return false, fmt.Errorf("encode clash config: %w", err)
	}

	now := c.now()
	analysis := stats.Analyze(doc.Proxies, now.UTC())
	msg := fmt.Sprintf("Serving %d proxies (%d active).", analysis.Total, analysis.Active)
	globalstate.GlobalStatus.Set(msg)

	c.mu.Lock()
	c.modTime = info.ModTime()
	c.clash = data
	c.status = PoolStatus{
		LoadedAt:  now,
		Metadata:  doc.Metadata,
		Analysis:  analysis,
		Proxies:   len(cfg.Proxies),
		Subscribe: export.SubscriptionURL(c.opts.Repository, c.opts.Branch),
	}
	c.mu.Unlock()

	l := logger.WithComponent("Web/Pool")
	l.Info().Int("total", analysis.Total).Int("active", analysis.Active).Msg("Pool reloaded.")
	return true, nil
}

// Clash returns the current Clash YAML, or nil before the first successful load.
func (c *PoolCache) Clash() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clash
}

func (c *PoolCache) Status() PoolStatus {
	c.mu.RLock()
	s := c.status
	c.mu.RUnlock()
	s.Status = globalstate.GlobalStatus.Get()
	s.StatusAt = globalstate.GlobalStatus.UpdatedAt()
	return s
}

// Watch polls the data file every interval until ctx is done and notifies hub on change.
func (c *PoolCache) Watch(ctx context.Context, interval time.Duration, hub *Hub) {
	l := logger.WithComponent("Web/Pool")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			changed, err := c.Refresh()
			if err != nil {
				l.Warn().Err(err).Msg("Pool refresh failed.")
				continue
			}
			if changed && hub != nil {
				hub.BroadcastPoolUpdate(c.Status())
			}
		case <-ctx.Done():
			return
		}
	}
}
