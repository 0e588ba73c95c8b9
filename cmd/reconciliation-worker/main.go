package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
	"github.com/radieske/dice-bet-platform-poc/internal/reconciler"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/config"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/db"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/logger"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	store := repo.NewPostgres(pg)
	ledgerCli := ledger.New(cfg.LedgerURL)
	rec := reconciler.New(log, store, ledgerCli)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	log.Info("reconciliation-worker started", zap.Duration("grace", rec.Grace))

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		if err := rec.Run(ctx); err != nil {
			log.Warn("reconciliation pass", zap.Error(err))
		}
		cancel()
	}
}
