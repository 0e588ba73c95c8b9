package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	bhttp "github.com/radieske/dice-bet-platform-poc/internal/bet-service/http"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/lock"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/service"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/cache"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/config"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/db"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg", zap.Error(err))
	}
	defer pg.Close()

	// Redis (lease por betId)
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	// deps
	repository := repo.NewPostgres(pg)
	ledgerCli := ledger.New(cfg.LedgerURL)
	locks := lock.NewRedis(rdb)
	svc := service.New(log, repository, ledgerCli, locks)

	// HTTP público
	api := bhttp.NewServer(log, svc)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// metrics/health
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.PingContext(r.Context()); err != nil {
			http.Error(w, "pg", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, metricsMux)
	}()

	log.Info("bet-service listening", zap.String("addr", fmt.Sprintf(":%s", cfg.HTTPPort)))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}
