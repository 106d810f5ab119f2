package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/cache"
	"pdftrans-go/internal/config"
	"pdftrans-go/internal/keypool"
	"pdftrans-go/internal/logging"
	"pdftrans-go/internal/processor"
	"pdftrans-go/internal/ratelimit"
	srv "pdftrans-go/internal/server"
	"pdftrans-go/internal/task"
	"pdftrans-go/internal/translate"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Server.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	log.Infof("starting pdftrans (config: %s)", *configPath)

	limiter := ratelimit.New(cfg.RateLimit.MaxTrackedIdentities)
	pools := keypool.NewRegistry(cfg.Pools)
	if len(cfg.Pools) == 0 {
		log.Warn("no credential pools configured; jobs will run without pooled keys")
	}

	durable := buildDurableStore(cfg)
	defer func() {
		if durable != nil {
			_ = durable.Close()
		}
	}()

	layered := cache.NewLayered(cache.Options{
		MaxMemoryItems:  cfg.Cache.MaxMemoryItems,
		CleanupInterval: time.Duration(cfg.Cache.CleanupIntervalSec) * time.Second,
		Durable:         durable,
	})

	tasks := task.NewManager(cfg.Tasks.MaxTasksInMemory, cfg.Tasks.Retention())
	defer tasks.Close()

	var translator processor.Translator
	if url := strings.TrimSpace(cfg.Engine.UpstreamURL); url != "" {
		translator = translate.NewClient(url, cfg.Engine.Timeout())
	} else {
		log.Warn("engine.upstream_url not set; submitted jobs will fail until configured")
		translator = translate.Unconfigured()
	}

	svc := processor.New(limiter, pools, layered, tasks, translator, processor.Config{
		RateLimit:       cfg.RateLimit.DefaultLimit,
		RateLimitWindow: cfg.RateLimit.Window(),
		ResultTTL:       cfg.Cache.ResultTTL(),
	})

	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		pools.Refresh(next.Pools)
		log.Infof("credential pools refreshed from %s", *configPath)
	})
	if err != nil {
		log.WithError(err).Warn("config watcher unavailable; pool changes require restart")
	} else {
		defer watcher.Close()
	}

	engine := srv.Build(cfg, srv.Dependencies{Processor: svc, Limiter: limiter})
	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: engine}

	go func() {
		log.Infof("listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	log.Info("server stopped")
}

// buildDurableStore constructs the configured durable cache tier. A backend
// that fails to initialize degrades to the next option rather than aborting
// startup: redis falls back to file, file falls back to memory-only.
func buildDurableStore(cfg *config.Config) cache.DurableStore {
	switch cfg.Cache.DurableBackend {
	case "redis":
		store := cache.NewRedisStore(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Health(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable; falling back to file cache backend")
			_ = store.Close()
			return buildFileStore(cfg)
		}
		log.Infof("durable cache backend: redis (%s)", cfg.Cache.RedisAddr)
		return store
	case "file":
		return buildFileStore(cfg)
	default:
		log.Info("durable cache backend disabled; memory tier only")
		return nil
	}
}

func buildFileStore(cfg *config.Config) cache.DurableStore {
	store, err := cache.NewFileStore(cfg.Cache.FileDir)
	if err != nil {
		log.WithError(err).Error("file cache backend unavailable; running with memory tier only")
		return nil
	}
	log.Infof("durable cache backend: file (%s)", cfg.Cache.FileDir)
	return store
}
