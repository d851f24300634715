package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/api/handlers"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/config"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/logging"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/metrics"
	"github.com/progate-hackathon-strawberry-flavor/GITRIS-engine/internal/services/tetris"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.BypassAuth {
		logger.Warn("BYPASS_AUTH is enabled; tokens are treated as user IDs")
	}

	collector := metrics.NewCollector()
	sessionManager, err := tetris.NewSessionManager(tetris.ManagerOptions{
		ClearDelay:      cfg.ClearDelay,
		InputRate:       cfg.InputRatePerSecond,
		InputBurst:      cfg.InputBurst,
		IdleTimeout:     cfg.SessionIdleTimeout,
		JanitorInterval: cfg.JanitorInterval,
		Logger:          logger,
		Metrics:         collector,
	})
	if err != nil {
		logger.Fatal("failed to create session manager", zap.Error(err))
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		SessionManager: sessionManager,
		Auth:           middleware.NewAuthenticator(cfg.JWTSecret, cfg.BypassAuth, logger),
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        collector,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	sessionManager.Shutdown()
	logger.Info("server stopped")
}
