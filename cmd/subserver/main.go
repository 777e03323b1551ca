package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"irproxy_pool/internal/service/web"
	"irproxy_pool/internal/shared/config"
	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/export"
	"irproxy_pool/proxypool/storage"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	envFile := flag.String("env", ".env", "Optional .env file with overrides")
	interval := flag.Duration("interval", 30*time.Second, "How often the pool file is checked for changes")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "irproxy.ini")

	config.LoadEnv(*envFile)
	cfg := config.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// The server keeps console logging only; run log files belong to the updater.
	logConf := cfg.LogConf
	logConf.Dir = ""
	if err := logger.Init(logConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := web.NewPoolCache(storage.NewYAMLStorage(cfg.CommonConf.DataFile), cfg.CommonConf.DataFile, export.Options{
		OnlyActive: cfg.ExportConf.OnlyActive,
		Repository: cfg.ExportConf.Repository,
		Branch:     cfg.ExportConf.Branch,
	})
	if _, err := cache.Refresh(); err != nil {
		logger.Warn().Err(err).Msg("Initial pool load failed.")
	}

	hub := web.NewHub()
	go hub.Run(ctx)
	go cache.Watch(ctx, *interval, hub)

	var wg sync.WaitGroup
	srv, err := web.StartServer(&wg, cfg.WebConf, web.NewHandler(cache), hub)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start subscription server")
	}
	if srv == nil {
		return
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down subscription server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed.")
	}
	wg.Wait()
}
