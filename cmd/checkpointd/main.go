// Package main is the entry point for the checkpointd service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/checkpoint/api"
	"github.com/checkpointd/checkpointd/internal/checkpoint/cache"
	"github.com/checkpointd/checkpointd/internal/checkpoint/cleanup"
	"github.com/checkpointd/checkpointd/internal/checkpoint/diff"
	"github.com/checkpointd/checkpointd/internal/checkpoint/discovery"
	"github.com/checkpointd/checkpointd/internal/checkpoint/gitcli"
	"github.com/checkpointd/checkpointd/internal/checkpoint/service"
	"github.com/checkpointd/checkpointd/internal/common/config"
	"github.com/checkpointd/checkpointd/internal/common/httpmw"
	"github.com/checkpointd/checkpointd/internal/common/logger"
	"github.com/checkpointd/checkpointd/internal/conversation"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logCfg := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting checkpointd service...",
		zap.String("checkpoints_root", cfg.Checkpoints.Root),
		zap.String("cache_dir", cfg.Cache.Dir))

	// 3. Build the checkpoint core
	runner := gitcli.NewExecRunner(cfg.Checkpoints.GitBinary, cfg.Checkpoints.CommandTimeoutDuration())
	scanner := discovery.NewScanner(cfg.Checkpoints.Root, runner, log)
	engine := diff.NewEngine(runner, scanner, log)
	cleaner := cleanup.NewCleaner(runner, log)
	store := cache.NewStore(cfg.Cache.Dir, log)
	boundaries := conversation.NewFileSource(cfg.Checkpoints.BoundariesDir, log)

	svc := service.New(scanner, engine, cleaner, boundaries, store, cfg.Checkpoints.IgnoreFile, log)

	// 4. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.RequestLogger(log, "checkpointd"))

	// 5. Register API routes
	v1 := router.Group("/api/v1")
	api.SetupRoutes(v1, svc, log)

	// 6. Health check (simple HTTP for load balancers/monitoring)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "checkpointd",
		})
	})

	// 7. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 8. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down checkpointd service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("checkpointd service stopped")
}

// corsMiddleware returns a CORS middleware for browser clients
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
