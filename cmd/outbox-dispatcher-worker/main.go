package main

import (
	"context"
	"database/sql"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/outbox"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/config"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/db"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/kafka"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/logger"
	"github.com/radieske/dice-bet-platform-poc/internal/shared/metrics"
)

// Depois desse número de tentativas o evento vai pra DLQ.
const maxAttempts = 5

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

	// Um writer por tópico de ciclo de vida + DLQ
	writers := map[string]*kafkago.Writer{
		cfg.TopicBetCreated:  kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetCreated),
		cfg.TopicBetCanceled: kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetCanceled),
		cfg.TopicBetCalled:   kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetCalled),
	}
	dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEventsDLQ)
	defer dlqWriter.Close()
	for _, w := range writers {
		defer w.Close()
	}

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	log.Info("outbox-dispatcher-worker started",
		zap.String("topics", cfg.TopicBetCreated+","+cfg.TopicBetCanceled+","+cfg.TopicBetCalled),
	)

	ctx := context.Background()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Loop principal: publica eventos pendentes do outbox, at-least-once.
	// O consumidor deduplica pelo eventId do payload.
	for range ticker.C {
		if err := dispatchPending(ctx, log, pg, writers, dlqWriter); err != nil {
			log.Warn("dispatch pass", zap.Error(err))
		}
	}
}

func dispatchPending(
	ctx context.Context,
	log *zap.Logger,
	pg *sql.DB,
	writers map[string]*kafkago.Writer,
	dlqWriter *kafkago.Writer,
) error {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	rows, err := outbox.ListPending(c, pg, 100)
	cancel()
	if err != nil {
		return err
	}

	for _, r := range rows {
		w, ok := writers[r.Topic]
		if !ok || r.Attempts >= maxAttempts {
			w = dlqWriter
		}

		if err := kafka.WriteJSON(ctx, w, r.Key, r.Payload); err != nil {
			log.Warn("publish event", zap.String("eventId", r.ID), zap.String("topic", r.Topic), zap.Error(err))
			if merr := outbox.MarkFailed(ctx, pg, r.ID, err.Error()); merr != nil {
				log.Warn("mark failed", zap.String("eventId", r.ID), zap.Error(merr))
			}
			continue
		}
		if err := outbox.MarkSent(ctx, pg, r.ID); err != nil {
			// evento pode ser republicado; dedup fica no consumidor
			log.Warn("mark sent", zap.String("eventId", r.ID), zap.Error(err))
		}
	}
	return nil
}
