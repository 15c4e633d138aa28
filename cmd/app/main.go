package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_cache/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Refresh loops
	orch := bootstrap.Orchestrator
	if err := orch.Start(ctx); err != nil {
		slog.Error("❌ Failed to start orchestrator", slog.Any("error", err))
		os.Exit(1)
	}
	defer orch.Stop()

	// 4. Background logo warmup
	go bootstrap.WarmLogos(ctx)

	// 5. Query layer
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- bootstrap.Server.ListenAndServe(ctx)
	}()

	slog.InfoContext(ctx, "✨ Market cache fully operational. Press Ctrl+C to exit.")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("HTTP server failed", slog.Any("error", err))
		}
	}

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bootstrap.Server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}
}
