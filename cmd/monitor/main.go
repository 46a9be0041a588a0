package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"yt_monitor/internal/config"
	"yt_monitor/internal/dedup"
	"yt_monitor/internal/events"
	"yt_monitor/internal/httpapi"
	"yt_monitor/internal/janitor"
	"yt_monitor/internal/monitor"
	"yt_monitor/internal/storage"
	"yt_monitor/internal/webhook"
	"yt_monitor/internal/youtube"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the configuration file")
	flag.Parse()

	bootLog := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfgMgr, err := config.NewManager(*configPath, bootLog)
	if err != nil {
		bootLog.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Snapshot()

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	apiKey := func() string { return cfgMgr.Snapshot().APIKey }
	fetcher := youtube.New(http.DefaultClient, apiKey, log)
	sender := webhook.NewSender(http.DefaultClient, store, cfgMgr.Snapshot, log)
	dispatcher := webhook.NewDispatcher(sender, store, log)
	gate := dedup.New(store, log)
	bus := events.New()

	mon := monitor.New(cfgMgr.Snapshot, store, fetcher, gate, dispatcher, bus, log)

	jan := janitor.New(store, cfgMgr.Snapshot, log)
	if err := jan.Start(); err != nil {
		log.Error("start janitor", "error", err)
		os.Exit(1)
	}
	defer jan.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := cfgMgr.Watch(ctx); err != nil {
			log.Error("config watcher stopped", "error", err)
		}
	}()

	log.Info("starting monitor")
	mon.Start()
	mon.RunImmediateCheck()
	defer mon.Stop()

	api := httpapi.New(mon, bus, store, log)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("serving operational API", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server", "error", err)
	}

	log.Info("monitor shutting down")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
