// Package app wires the process together: configuration, logging, storage,
// execution contexts, the notify hub and the market coordinator.
package app

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"market_go/internal/infra"
	"market_go/internal/infra/notify"
	"market_go/internal/infra/storage"
	"market_go/internal/sched"
	"market_go/internal/service"

	"github.com/shopspring/decimal"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config *infra.Config
	Store  *storage.Store
	Hub    *notify.Hub
	Market *service.Market

	bg     *sched.Pool
	owners *sched.Actors
}

func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logger, database,
// execution contexts, hub, market.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	if dir := filepath.Dir(cfg.Database.File); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	store, err := storage.Open(cfg.Database.File)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("database ready", slog.String("file", cfg.Database.File))

	b.bg = sched.NewPool(cfg.Sched.BackgroundWorkers, cfg.Sched.QueueSize)
	b.owners = sched.NewActors(cfg.Sched.QueueSize)

	b.Hub = notify.NewHub(logger)

	b.Market = service.NewMarket(
		logger,
		store,
		NewLocalEconomy(),
		NewLocalInventory(),
		b.Hub,
		marketConfig(cfg),
		b.bg,
		b.owners,
	)
	slog.Info("market engine ready",
		slog.Int("workers", cfg.Sched.BackgroundWorkers),
		slog.Float64("transaction_fee", cfg.Market.TransactionFee))
	return nil
}

// ReloadPolicy re-reads the configuration file and applies the fee and ban
// sections to the running market.
func (b *Bootstrap) ReloadPolicy(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config.Market = cfg.Market
	b.Market.ReloadPolicy(marketConfig(cfg))
	return nil
}

// NotifyHandler exposes the hub for mounting on an HTTP server.
func (b *Bootstrap) NotifyHandler() http.Handler {
	return b.Hub
}

// Shutdown drains the execution contexts and releases resources. The pool
// closes first and its in-flight tasks still land on the owner queues, which
// stay open until the pool has drained; owner tasks hopping the other way
// get a rejected submit and settle their request with a refund.
func (b *Bootstrap) Shutdown() {
	if b.bg != nil {
		b.bg.Close()
	}
	if b.owners != nil {
		b.owners.Close()
	}
	if b.Hub != nil {
		b.Hub.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("error", err))
		}
	}
}

// marketConfig converts the file configuration into policy decimals.
func marketConfig(cfg *infra.Config) service.Config {
	return service.Config{
		DefaultFeeRate:      decimal.NewFromFloat(cfg.Market.TransactionFee),
		CancellationFeeRate: decimal.NewFromFloat(cfg.Market.CancellationFee),
		OverviewPageSize:    cfg.Market.OverviewPageSize,
		BannedItems:         cfg.Market.BannedItems,
	}
}
