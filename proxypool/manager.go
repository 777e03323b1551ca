package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"irproxy_pool/internal/shared/config"
	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/export"
	"irproxy_pool/proxypool/fetcher"
	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/retention"
	"irproxy_pool/proxypool/stats"
	"irproxy_pool/proxypool/storage"
)

// Manager 是代理池模块的总控制器，负责一次完整的更新运行：
// 加载 -> 抓取 -> 准入 -> 淘汰 -> 保底 -> 保存 -> 导出 -> 报告。
type Manager struct {
	cfg      *types.Config
	storage  storage.Storage
	fetcher  fetcher.CandidateFetcher
	sources  *types.SourceList
	policy   retention.Policy
	counters *stats.Counters

	// Now is the run clock. Dates are always taken in UTC.
	Now func() time.Time
	// Export writes the Clash artifacts. nil skips the export step.
	Export func(dir string, pool []*model.ProxyRecord, opts export.Options) (*export.Result, error)
}

// Summary is what one Run did.
type Summary struct {
	RunID         string
	InitialTotal  int
	InitialActive int
	Retention     retention.Result
	Fetch         fetcher.Report
	Emergency     fetcher.Report
	Analysis      stats.Analysis
	Counters      stats.Snapshot
	Export        *export.Result
	Document      *storage.Document
}

// NewManager 创建并初始化代理池管理器。
func NewManager(cfg *types.Config, store storage.Storage, f fetcher.CandidateFetcher, sources *types.SourceList, counters *stats.Counters) *Manager {
	if counters == nil {
		counters = &stats.Counters{}
	}
	if sources == nil {
		sources = &types.SourceList{}
	}
	return &Manager{
		cfg:     cfg,
		storage: store,
		fetcher: f,
		sources: sources,
		policy: retention.Policy{
			MinPoolSize:     cfg.PoolConf.MinPoolSize,
			RetentionWindow: time.Duration(cfg.PoolConf.RetentionDays) * 24 * time.Hour,
		},
		counters: counters,
		Now:      time.Now,
		Export:   export.WriteAll,
	}
}

// Run executes one update. The only error it returns is a failure to persist the pool.
func (m *Manager) Run(ctx context.Context) (*Summary, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	now := m.Now().UTC()
	sum := &Summary{RunID: uuid.NewString()}

	l.Info().Str("run_id", sum.RunID).Int("min_pool_size", m.policy.MinPoolSize).Int("retention_days", m.cfg.PoolConf.RetentionDays).Msg("Pool update starting...")

	// 1. 加载现有代理池
	pool := m.loadPool()
	sum.InitialTotal = len(pool)
	sum.InitialActive = retention.CountActive(pool)
	m.logAnalysis("Initial pool state.", stats.Analyze(pool, now))

	// 2. 抓取普通源
	scope := fetcher.Scope{Countries: config.TargetCountries(m.cfg)}
	l.Info().Int("sources", len(m.sources.Normal)).Strs("countries", scope.Countries).Msg("Fetching normal sources...")
	candidates, report := m.fetcher.FetchCandidates(ctx, m.sources.Normal, scope)
	sum.Fetch = report

	// 3. 准入、淘汰、保底
	res := m.policy.Run(pool, candidates, now, m.emergencyBatches(ctx, &sum.Emergency))
	sum.Retention = res
	m.counters.Added.Add(int64(res.Added + res.Emergency))
	m.counters.Removed.Add(int64(res.Removed))
	m.counters.Duplicates.Add(int64(res.Duplicates))

	l.Info().Int("candidates", len(candidates)).Int("added", res.Added).Int("duplicates", res.Duplicates).Msg("Admission finished.")
	l.Info().Int("removed", res.Removed).Msg("Aged proxies evicted.")
	if res.Emergency > 0 || sum.Emergency.SourcesAttempted > 0 {
		l.Info().Int("added", res.Emergency).Int("sources", sum.Emergency.SourcesAttempted).Msg("Emergency sources used.")
	}
	if !res.FloorReached {
		l.Warn().Int("active", res.ActiveCount).Int("min_pool_size", m.policy.MinPoolSize).Msg("Active proxies below the minimum pool size after emergency fetch.")
	}
	if dups := retention.Duplicates(res.Pool); len(dups) > 0 {
		l.Warn().Int("count", len(dups)).Str("first", dups[0].String()).Msg("Pool contains duplicate identity keys.")
	}

	// 4. 保存
	doc := &storage.Document{
		Proxies:  res.Pool,
		Metadata: m.metadata(sum, now),
	}
	sum.Document = doc
	if err := m.storage.Save(doc); err != nil {
		l.Error().Err(err).Msg("Failed to save proxy pool.")
		return sum, fmt.Errorf("save pool: %w", err)
	}

	// 5. 导出
	if m.Export != nil {
		exp, err := m.Export(m.cfg.ExportConf.OutputDir, res.Pool, export.Options{
			OnlyActive: m.cfg.ExportConf.OnlyActive,
			Repository: m.cfg.ExportConf.Repository,
			Branch:     m.cfg.ExportConf.Branch,
		})
		if err != nil {
			l.Error().Err(err).Msg("Failed to export Clash config.")
		}
		sum.Export = exp
	}

	// 6. 报告
	sum.Analysis = stats.Analyze(res.Pool, now)
	sum.Counters = m.counters.Snapshot()
	m.report(sum)
	return sum, nil
}

// loadPool reads the persisted pool. An unreadable file starts an empty pool.
func (m *Manager) loadPool() []*model.ProxyRecord {
	l := logger.WithComponent("ProxyPool/Manager")
	doc, err := m.storage.Load()
	if err != nil {
		l.Error().Err(err).Msg("Failed to load proxies from storage. Starting with an empty pool.")
		return nil
	}
	if dups := retention.Duplicates(doc.Proxies); len(dups) > 0 {
		l.Warn().Int("count", len(dups)).Msg("Loaded pool contains duplicate identity keys.")
	}
	return doc.Proxies
}

// emergencyBatches yields one emergency source per call, fetched without a country scope.
func (m *Manager) emergencyBatches(ctx context.Context, total *fetcher.Report) retention.BatchFunc {
	next := 0
	return func() ([]*model.ProxyRecord, bool) {
		if next >= len(m.sources.Emergency) || ctx.Err() != nil {
			return nil, false
		}
		src := m.sources.Emergency[next]
		next++

		logger.WithComponent("ProxyPool/Manager").Info().Str("source", src.Name).Msg("Active proxies below floor, fetching emergency source...")
		batch, report := m.fetcher.FetchCandidates(ctx, []types.Source{src}, fetcher.Scope{})
		total.Add(report)
		return batch, true
	}
}

func (m *Manager) metadata(sum *Summary, now time.Time) storage.Metadata {
	return storage.Metadata{
		TotalCount:       len(sum.Retention.Pool),
		ActiveCount:      sum.Retention.ActiveCount,
		LastUpdated:      now.Format(storage.MetadataTimeLayout),
		RetentionDays:    m.cfg.PoolConf.RetentionDays,
		MinProxies:       m.policy.MinPoolSize,
		SourcesUsed:      sum.Fetch.SourcesSucceeded() + sum.Emergency.SourcesSucceeded(),
		SourcesFailed:    sum.Fetch.SourcesFailed + sum.Emergency.SourcesFailed,
		LogRetentionDays: m.cfg.LogConf.RetentionDays,
		LogFile:          logger.RunLogFile(),
		RunID:            sum.RunID,
	}
}

func (m *Manager) logAnalysis(msg string, a stats.Analysis) {
	l := logger.WithComponent("ProxyPool/Manager")
	countries := make([]string, 0, len(a.TopCountries))
	for _, c := range a.TopCountries {
		countries = append(countries, fmt.Sprintf("%s=%d", c.Country, c.Count))
	}
	l.Info().
		Int("total", a.Total).
		Int("active", a.Active).
		Int("today", a.Ages.Today).
		Int("one_day", a.Ages.OneDay).
		Int("two_days", a.Ages.TwoDays).
		Int("three_days", a.Ages.ThreeDays).
		Int("older", a.Ages.Older).
		Str("countries", strings.Join(countries, ",")).
		Str("oldest", a.OldestDate).
		Str("newest", a.NewestDate).
		Msg(msg)
}

func (m *Manager) report(sum *Summary) {
	l := logger.WithComponent("ProxyPool/Manager")
	c := sum.Counters

	m.logAnalysis("Final pool state.", sum.Analysis)
	l.Info().
		Int64("received", c.Received).
		Int64("target_country", c.TargetCountry).
		Int64("non_target", c.NonTarget).
		Int64("active_found", c.ActiveFound).
		Int64("inactive_found", c.InactiveFound).
		Int64("duplicates", c.Duplicates).
		Int64("added", c.Added).
		Int64("removed", c.Removed).
		Int64("ip_checks", c.IPChecks).
		Int64("cache_hits", c.CacheHits).
		Int64("api_requests", c.APIRequests).
		Int64("api_failures", c.APIFailures).
		Int64("old_logs_deleted", c.OldLogsDeleted).
		Msg("Run counters.")

	final := sum.Analysis
	l.Info().
		Str("run_id", sum.RunID).
		Int("initial_total", sum.InitialTotal).
		Int("final_total", final.Total).
		Int("total_delta", final.Total-sum.InitialTotal).
		Int("initial_active", sum.InitialActive).
		Int("final_active", final.Active).
		Int("active_delta", final.Active-sum.InitialActive).
		Int("sources_ok", sum.Fetch.SourcesSucceeded()+sum.Emergency.SourcesSucceeded()).
		Int("sources_failed", sum.Fetch.SourcesFailed+sum.Emergency.SourcesFailed).
		Str("data_file", m.cfg.CommonConf.DataFile).
		Msg("Pool update finished.")

	for _, u := range append(append([]string(nil), sum.Fetch.FailedURLs...), sum.Emergency.FailedURLs...) {
		l.Warn().Str("url", u).Msg("Source failed.")
	}
	if final.Active < m.policy.MinPoolSize {
		l.Warn().Int("active", final.Active).Int("min_pool_size", m.policy.MinPoolSize).Msg("Pool is below the minimum active size.")
	}
	if f := logger.RunLogFile(); f != "" {
		l.Info().Str("log_file", f).Msg("Run log written.")
	}
	if sum.Export != nil {
		l.Info().Str("clash_config", sum.Export.ClashPath).Str("subscription_url", sum.Export.SubscriptionURL).Msg("Subscription published.")
	}
}
