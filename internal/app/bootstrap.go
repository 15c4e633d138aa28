package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"market_cache/internal/api"
	"market_cache/internal/engine"
	"market_cache/internal/infra"
	"market_cache/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config       *infra.Config
	Logger       *slog.Logger
	Metrics      *infra.Metrics
	RunLog       *storage.RunLog
	Logos        *infra.LogoDownloader
	Orchestrator *engine.Orchestrator
	Server       *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component. Nothing is
// started yet.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping market cache...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	// 3. Run log (DB)
	runs, err := storage.NewRunLog(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	b.RunLog = runs
	slog.Info("✅ Run log initialized", slog.String("dsn", cfg.Storage.DSN))

	// 4. Logo downloader
	logos, err := infra.NewLogoDownloader(cfg.Server.LogoDir, cfg.Server.LogoSize)
	if err != nil {
		return err
	}
	b.Logos = logos

	// 5. Upstream clients and caches
	timeout := time.Duration(cfg.API.TimeoutSec) * time.Second
	prices := infra.NewCryptoCompareClient(cfg.API.Price.URL, cfg.API.Price.Key, timeout)
	src := engine.Sources{
		Prices:      prices,
		History:     prices,
		Pools:       infra.NewAdaPoolsClient(cfg.API.Pools.URL, cfg.API.Pools.Key, cfg.API.Pools.Network, timeout),
		Collections: infra.NewCollectionsClient(cfg.API.Collections.ListingURL, cfg.API.Collections.DetailURL, timeout),
	}
	b.Metrics = infra.NewMetrics()
	b.Orchestrator = engine.NewOrchestrator(cfg, src, b.Metrics, runs, b.Logger)
	slog.Info("✅ Refresh orchestrator ready",
		slog.Any("from", cfg.Currencies.From),
		slog.Any("to", cfg.Currencies.To),
		slog.String("base", cfg.Currencies.Base))

	// 6. Query layer
	b.Server = api.NewServer(cfg, b.Orchestrator, b.Metrics, runs, logos, b.Logger)
	return nil
}

// WarmLogos waits for the first pool listing and downloads the logos of
// the leading pools in the background.
func (b *Bootstrap) WarmLogos(ctx context.Context) {
	limit := b.Config.Server.LogoWarmCount
	if limit <= 0 {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for b.Orchestrator.Pools.Len() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	pools, _ := b.Orchestrator.Pools.All()
	if len(pools) > limit {
		pools = pools[:limit]
	}
	slog.Info("🔄 Warming pool logos...", slog.Int("pools", len(pools)))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads
	fetched := 0
	var mu sync.Mutex

	for _, p := range pools {
		if p.Img == "" {
			continue
		}
		wg.Add(1)
		go func(id, img string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			if _, err := b.Logos.Fetch(ctx, id, img); err != nil {
				slog.Debug("Failed to fetch logo", slog.String("pool", id), slog.Any("error", err))
				return
			}
			mu.Lock()
			fetched++
			mu.Unlock()
		}(p.PoolID, p.Img)
	}

	wg.Wait()
	slog.Info("✨ Logo warmup completed", slog.Int("fetched", fetched))
}

// Close releases resources opened by Initialize.
func (b *Bootstrap) Close() {
	if b.RunLog != nil {
		if err := b.RunLog.Close(); err != nil {
			slog.Warn("Failed to close run log", slog.Any("error", err))
		}
	}
}
