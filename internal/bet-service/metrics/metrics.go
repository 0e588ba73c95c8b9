package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dice_bets_created_total",
		Help: "Apostas criadas com sucesso",
	})

	BetsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dice_bets_cancelled_total",
		Help: "Apostas canceladas pelo maker",
	})

	BetsCalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dice_bets_called_total",
		Help: "Apostas liquidadas via call",
	})

	BetErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dice_bet_errors_total",
		Help: "Falhas por operação e tipo",
	}, []string{"op", "kind"})

	RollDistribution = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dice_roll_value",
		Help:    "Distribuição dos rolls em [0,100)",
		Buckets: prometheus.LinearBuckets(0, 10, 10),
	})

	ReconciliationRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dice_reconciliation_repairs_total",
		Help: "Reparos aplicados pelo reconciliation-worker por tipo de drift",
	}, []string{"kind"})
)
