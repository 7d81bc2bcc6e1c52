// Package main provides the hub server binary: the WebSocket event hub, the
// periodic stack workers, and the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Ataxia123/bonfire-hub/internal/config"
	"github.com/Ataxia123/bonfire-hub/internal/game/stacks"
	"github.com/Ataxia123/bonfire-hub/internal/game/store"
	"github.com/Ataxia123/bonfire-hub/internal/hub"
	"github.com/Ataxia123/bonfire-hub/internal/observability"
	"github.com/Ataxia123/bonfire-hub/internal/server"
	"github.com/Ataxia123/bonfire-hub/internal/storage/postgres"
	"github.com/Ataxia123/bonfire-hub/internal/transport/ws"
	"github.com/Ataxia123/bonfire-hub/internal/worker"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting hub server",
		zap.String("addr", cfg.Server.Addr()),
	)

	// Pick the game store: in-memory by default, Postgres when enabled.
	var gameStore store.Store
	var pool *postgres.Pool
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		gameStore = postgres.NewStore(pool)
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
	} else {
		gameStore = store.NewMemStore()
		logger.Info("using in-memory game store")
	}

	h := hub.NewHub(logger)
	dispatcher := hub.NewDispatcher(h, cfg.Hub.EventBuffer, logger)

	delveClient := stacks.NewClient(cfg.Delve)
	processor := stacks.NewProcessor(gameStore, delveClient, dispatcher, logger)

	clock := clockwork.NewRealClock()
	stackWorker := worker.NewStackWorker(processor, cfg.Workers.StackInterval, cfg.Workers.StopTimeout, clock, logger)
	gmWorker := worker.NewGMWorker(processor, cfg.Workers.GMInterval, cfg.Workers.StopTimeout, clock, logger)

	handler := ws.NewHandler(h, dispatcher, stackWorker, gmWorker, cfg.Hub.WriteTimeout, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: handler.Routes(),
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("dispatcher", &server.FuncService{
		StartFn: dispatcher.Start,
		StopFn: func() {
			dispatcher.Stop()
			dispatcher.Wait()
		},
	})

	lifecycle.Add("stack-worker", &server.FuncService{
		StartFn: func() error {
			stackWorker.Start()
			return nil
		},
		StopFn: stackWorker.Stop,
	})

	lifecycle.Add("gm-worker", &server.FuncService{
		StartFn: func() error {
			gmWorker.Start()
			return nil
		},
		StopFn: gmWorker.Stop,
	})

	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			logger.Info("http server listening",
				zap.String("addr", cfg.Server.Addr()),
			)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		},
	})

	if pool != nil {
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				for {
					time.Sleep(30 * time.Second)
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			},
			StopFn: pool.Close,
		})
	}

	logger.Info("hub server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Duration("stack_interval", stackWorker.Interval()),
		zap.Duration("gm_interval", gmWorker.Interval()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadConfig reads the config file when it exists and falls back to defaults
// plus environment overrides when it does not.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		v := config.Defaults()
		v.SetEnvPrefix("BONFIRE")
		v.AutomaticEnv()
		return config.LoadFromViper(v)
	}
	return config.Load(path)
}
