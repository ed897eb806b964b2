package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choraleia/plugbot/pkg/catalog"
	"github.com/choraleia/plugbot/pkg/config"
	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/lock"
	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/choraleia/plugbot/pkg/tools"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	}
	cfg, configFile, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config load failed:", err)
		os.Exit(1)
	}
	utils.InitLogger(cfg.LogLevel())
	logger.Info("Config loaded", "file", configFile, "driver", cfg.DatabaseDriver(), "model", cfg.Model.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, cleanup, err := buildServices(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	server := NewServer(cfg, services)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	// Requests still being served need the database until they finish.
	server.Wait()
}

func buildServices(ctx context.Context, cfg *config.AppConfig) (*Services, func(), error) {
	logger := utils.GetLogger()

	gdb, err := db.Open(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	closers = append(closers, func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	emitter := event.Global()
	compiler := sandbox.NewCompiler(sandbox.Options{
		CompileTimeout:  cfg.CompileTimeout(),
		HandlerTimeout:  cfg.HandlerTimeout(),
		MaxStringLength: cfg.MaxStringLength(),
	})
	loader := tools.NewPluginToolLoader(compiler, emitter, cfg.MaxConcurrency())
	modelService := service.NewModelService()

	// Conversation turns are serialized across processes when Redis is configured.
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = lock.NewRedisLocker(client, cfg.AgentTimeout()+30*time.Second)
		closers = append(closers, func() { _ = client.Close() })
		logger.Info("Using redis conversation locks", "addr", cfg.Redis.Addr)
	}

	plugins := service.NewPluginService(gdb, compiler, emitter)
	chatbots := service.NewChatbotService(gdb, emitter)
	chat := service.NewChatService(gdb, modelService, loader, locker, emitter, service.ChatOptions{
		Model:         &cfg.Model,
		Instruction:   cfg.Instruction(),
		MaxIterations: cfg.MaxIterations(),
		AgentTimeout:  cfg.AgentTimeout(),
		AutoTitle:     cfg.AutoTitle(),
	})

	if err := attachCatalog(ctx, cfg, modelService, plugins); err != nil {
		logger.Warn("Plugin catalog disabled, search uses text matching", "error", err)
	}

	return &Services{
		Plugins:  plugins,
		Chatbots: chatbots,
		Chat:     chat,
		Emitter:  emitter,
	}, cleanup, nil
}

// attachCatalog enables semantic plugin search when an embedding provider
// is configured.
func attachCatalog(ctx context.Context, cfg *config.AppConfig, models *service.ModelService, plugins *service.PluginService) error {
	embedder, err := models.CreateEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		return err
	}
	if embedder == nil {
		return nil
	}
	cat, err := catalog.NewFromEmbedder(embedder, cfg.CatalogPath())
	if err != nil {
		return err
	}
	existing, err := plugins.ListAvailablePlugins(ctx)
	if err != nil {
		return err
	}
	if cat.Len() < len(existing) {
		cat.Rebuild(ctx, existing)
	}
	plugins.SetCatalog(cat)
	return nil
}
