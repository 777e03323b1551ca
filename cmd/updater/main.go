package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"irproxy_pool/internal/shared/config"
	"irproxy_pool/internal/shared/logger"
	manager "irproxy_pool/proxypool"
	"irproxy_pool/proxypool/fetcher"
	"irproxy_pool/proxypool/geo"
	"irproxy_pool/proxypool/scraper"
	"irproxy_pool/proxypool/stats"
	"irproxy_pool/proxypool/storage"
	"irproxy_pool/proxypool/validator"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	envFile := flag.String("env", ".env", "Optional .env file with overrides")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "irproxy.ini")

	// 1. 加载 .env 与 .ini 行为配置
	config.LoadEnv(*envFile)
	cfg := config.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 清理旧日志后再初始化日志系统
	counters := &stats.Counters{}
	var cleanErr error
	if cfg.LogConf.Dir != "" {
		n, err := logger.CleanOldLogs(cfg.LogConf.Dir, cfg.LogConf.RetentionDays, time.Now())
		counters.OldLogsDeleted.Add(int64(n))
		cleanErr = err
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanErr != nil {
		logger.Warn().Err(cleanErr).Msg("Failed to clean old log files.")
	}
	logger.Info().Str("config", iniPath).Int("old_logs_deleted", int(counters.OldLogsDeleted.Load())).Msg("Configuration loaded.")

	// 2. 加载 sources.yaml 数据配置
	sources, err := config.LoadSources(cfg.CommonConf.SourcesFile)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to load sources file '%s'", cfg.CommonConf.SourcesFile)
	}

	// 3. 组装各组件
	services, err := geo.ServicesByName(cfg.GeoConf.Services)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid geo.services")
	}
	geoOpts := geo.Options{
		Services:   services,
		Client:     &http.Client{Timeout: time.Duration(cfg.GeoConf.TimeoutSeconds) * time.Second},
		MaxRetries: cfg.GeoConf.MaxRetries,
		Counters:   counters,
	}
	if cfg.GeoConf.RequestsPerSecond > 0 {
		geoOpts.Limiter = rate.NewLimiter(rate.Limit(cfg.GeoConf.RequestsPerSecond), 1)
	}
	if cfg.GeoConf.MMDBPath != "" {
		db, err := geo.OpenMMDB(cfg.GeoConf.MMDBPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.GeoConf.MMDBPath).Msg("GeoIP database unavailable, using lookup services only.")
		} else {
			geoOpts.DB = db
			defer db.Close()
		}
	}

	probe := validator.NewValidator(
		time.Duration(cfg.FetchConf.ProbeTimeoutSeconds)*time.Second,
		cfg.FetchConf.ProbeConcurrency,
		cfg.FetchConf.ProbeMode,
		counters,
	)
	dl := scraper.NewDownloader(
		time.Duration(cfg.FetchConf.TimeoutSeconds)*time.Second,
		cfg.FetchConf.Retries,
		time.Duration(cfg.FetchConf.RetryBackoffSeconds)*time.Second,
		time.Duration(cfg.FetchConf.ForbiddenBackoffSeconds)*time.Second,
	)
	f := fetcher.New(fetcher.Options{
		Downloader:       dl,
		Geo:              geo.NewResolver(geoOpts),
		Prober:           probe,
		SourcesPerSecond: cfg.FetchConf.SourcesPerSecond,
		Counters:         counters,
	})
	m := manager.NewManager(cfg, storage.NewYAMLStorage(cfg.CommonConf.DataFile), f, sources, counters)

	// 4. 执行一次更新
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_, err = m.Run(ctx)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("Pool update failed.")
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}
