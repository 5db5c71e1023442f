package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/ai"
	"chat-sync/internal/auth"
	"chat-sync/internal/cache"
	"chat-sync/internal/config"
	"chat-sync/internal/hub"
	"chat-sync/internal/logging"
	"chat-sync/internal/middleware"
	"chat-sync/internal/notify"
	"chat-sync/internal/record"
	"chat-sync/internal/server"
	"chat-sync/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", "err", err)
	}
	logger := logging.New(cfg.LogLevel, "server")
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg, logger)
	defer store.Close()

	backend := cacheBackend(cfg.Redis, logger)
	defer backend.Close()

	bus, err := openBus(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("connect nats", "err", err)
	}
	defer bus.Close()

	h := hub.New()
	detach, err := h.Attach(bus)
	if err != nil {
		logger.Fatal("subscribe to version bus", "err", err)
	}
	defer detach()

	svc := service.New(service.Options{
		Store:  store,
		Cache:  cache.New(backend, logger),
		Bus:    bus,
		AI:     ai.WithFallback(ai.NewClient(cfg.AI), logger),
		Logger: logger,
	})

	aiLimiter := middleware.NewRateLimiter(cfg.RateLimit.AIRequests, cfg.RateLimit.AIWindow)
	defer aiLimiter.Close()

	tokenCfg := auth.DefaultTokenConfig(cfg.MasterSecret)
	tokenCfg.Expiry = cfg.TokenExpiry

	router := server.NewRouter(server.Deps{
		Service:     svc,
		Hub:         h,
		TokenConfig: tokenCfg,
		RateLimit:   cfg.RateLimit,
		AILimiter:   aiLimiter,
		Logger:      logger,
	})

	logger.Info("listening", "port", cfg.Port, "tls", cfg.TLSCertFile != "")
	if err := server.Run(ctx, cfg, router); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) record.Store {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, records are kept in memory")
		return record.NewMemoryStore()
	}
	pg, err := record.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("open database", "err", err)
	}
	return pg
}

func cacheBackend(cfg config.RedisConfig, logger *log.Logger) cache.Backend {
	switch cfg.Addr {
	case "":
		logger.Info("cache disabled")
		return cache.NullBackend{}
	case config.MemoryCacheAddr:
		return cache.NewMemoryBackend()
	}
	return cache.NewRedisBackend(cfg)
}

func openBus(cfg config.NATSConfig, logger *log.Logger) (notify.Bus, error) {
	if cfg.URL == "" {
		return notify.NewLocalBus(), nil
	}
	return notify.NewNATSBus(cfg, logger)
}
