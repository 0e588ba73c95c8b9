package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger"
	ledgerdto "github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger/dto"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/metrics"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
	lrepo "github.com/radieske/dice-bet-platform-poc/internal/ledger-service/repo"
	"github.com/radieske/dice-bet-platform-poc/pkg/contracts/events"
	"github.com/radieske/dice-bet-platform-poc/pkg/contracts/topics"
)

// BetStore é o recorte do repositório de apostas usado na reconciliação.
type BetStore interface {
	FindOpenOlderThan(ctx context.Context, cutoff time.Time) ([]repo.Bet, error)
	FindCancelledAfter(ctx context.Context, since time.Time) ([]repo.Bet, error)
	Cancel(ctx context.Context, id string, at time.Time, evt repo.Event) error
	MarkExecuted(ctx context.Context, id string, up repo.ExecutionUpdate, evt repo.Event) error
}

// Ledger é o recorte do client de ledger usado na reconciliação.
type Ledger interface {
	LockState(ctx context.Context, ref string) (string, error)
	UnlockBalance(ctx context.Context, user string, amount int64, ref string) error
	Settlement(ctx context.Context, ref string) (ledgerdto.SettlementResponse, error)
}

// Reconciler compara o estado terminal das apostas com o estado dos locks no
// ledger e repara o drift deixado por um crash entre os dois sistemas:
//   - aposta aberta sem lock -> cancela o registro (criação sem backing)
//   - aposta aberta com lock liquidado -> completa a transição executed a
//     partir do settlement registrado no ledger
//   - aposta cancelada com lock ativo -> libera o lock
type Reconciler struct {
	log    *zap.Logger
	store  BetStore
	ledger Ledger

	// Grace evita reconciliar apostas cujo fluxo de criação ainda está em andamento
	Grace    time.Duration
	Lookback time.Duration
	now      func() time.Time
}

func New(log *zap.Logger, store BetStore, lg Ledger) *Reconciler {
	return &Reconciler{
		log:      log,
		store:    store,
		ledger:   lg,
		Grace:    time.Minute,
		Lookback: 24 * time.Hour,
		now:      time.Now,
	}
}

// Run executa um passe completo de reconciliação.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.repairOpenBets(ctx); err != nil {
		return err
	}
	return r.repairCancelledBets(ctx)
}

func (r *Reconciler) repairOpenBets(ctx context.Context) error {
	open, err := r.store.FindOpenOlderThan(ctx, r.now().Add(-r.Grace))
	if err != nil {
		return fmt.Errorf("list open bets: %w", err)
	}

	for i := range open {
		bet := &open[i]
		state, err := r.ledger.LockState(ctx, bet.ID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			// criação morreu entre o insert e o lock; aposta sem backing
			r.cancelRecord(ctx, bet, "missing_lock")

		case err != nil:
			r.log.Warn("lock state", zap.String("betId", bet.ID), zap.Error(err))

		case state == lrepo.LockStatusLocked:
			// consistente

		case state == lrepo.LockStatusSettled:
			// ledger liquidou mas o bet store não registrou; completa do settlement
			r.completeFromSettlement(ctx, bet)

		case state == lrepo.LockStatusUnlocked:
			// lock devolvido mas registro ainda aberto
			r.cancelRecord(ctx, bet, "unlocked_drift")
		}
	}
	return nil
}

func (r *Reconciler) repairCancelledBets(ctx context.Context) error {
	cancelled, err := r.store.FindCancelledAfter(ctx, r.now().Add(-r.Lookback))
	if err != nil {
		return fmt.Errorf("list cancelled bets: %w", err)
	}

	for i := range cancelled {
		bet := &cancelled[i]
		state, err := r.ledger.LockState(ctx, bet.ID)
		if err != nil || state != lrepo.LockStatusLocked {
			continue
		}
		// cancelamento gravado mas o unlock nunca chegou no ledger
		if err := r.ledger.UnlockBalance(ctx, bet.Maker, bet.AmountUnits, bet.ID); err != nil {
			r.log.Warn("repair unlock", zap.String("betId", bet.ID), zap.Error(err))
			continue
		}
		metrics.ReconciliationRepairs.WithLabelValues("stale_lock").Inc()
		r.log.Info("repaired stale lock", zap.String("betId", bet.ID))
	}
	return nil
}

func (r *Reconciler) cancelRecord(ctx context.Context, bet *repo.Bet, kind string) {
	at := r.now().UTC()
	cancelled := *bet
	cancelled.CancelledAt = &at
	err := r.store.Cancel(ctx, bet.ID, at, newEvent(events.TypeBetCanceled, topics.BetCanceled, &cancelled))
	if err != nil {
		r.log.Warn("repair cancel", zap.String("betId", bet.ID), zap.Error(err))
		return
	}
	metrics.ReconciliationRepairs.WithLabelValues(kind).Inc()
	r.log.Info("repaired open bet without backing",
		zap.String("betId", bet.ID), zap.String("kind", kind))
}

func (r *Reconciler) completeFromSettlement(ctx context.Context, bet *repo.Bet) {
	st, err := r.ledger.Settlement(ctx, bet.ID)
	if err != nil {
		r.log.Warn("fetch settlement", zap.String("betId", bet.ID), zap.Error(err))
		return
	}
	executedAt, err := time.Parse(time.RFC3339Nano, st.ExecutedAt)
	if err != nil {
		r.log.Warn("settlement executedAt", zap.String("betId", bet.ID), zap.Error(err))
		return
	}

	up := repo.ExecutionUpdate{
		CallerUser:     st.Caller,
		CallerSeed:     st.CallerSeed,
		ServerSeed:     st.ServerSeed,
		FullSeed:       st.FullSeed,
		RollHundredths: st.RollHundredths,
		MakerWon:       st.MakerWon,
		ExecutedAt:     executedAt,
	}
	executed := *bet
	executed.CallerUser = up.CallerUser
	executed.CallerSeed = up.CallerSeed
	executed.ServerSeed = up.ServerSeed
	executed.FullSeed = up.FullSeed
	executed.RollHundredths = up.RollHundredths
	won := up.MakerWon
	executed.MakerWon = &won
	executed.ExecutedAt = &executedAt

	err = r.store.MarkExecuted(ctx, bet.ID, up, newEvent(events.TypeBetCalled, topics.BetCalled, &executed))
	if err != nil {
		r.log.Warn("repair execute", zap.String("betId", bet.ID), zap.Error(err))
		return
	}
	metrics.ReconciliationRepairs.WithLabelValues("settled_drift").Inc()
	r.log.Info("completed executed transition from ledger settlement",
		zap.String("betId", bet.ID), zap.String("tx", st.Tx))
}

func newEvent(evtType, topic string, bet *repo.Bet) repo.Event {
	e := events.BetEvent{
		EventID: uuid.NewString(),
		Type:    evtType,
		Ts:      time.Now().UTC(),
		Bet: events.BetRecord{
			BetID:          bet.ID,
			Maker:          bet.Maker,
			AmountUnits:    bet.AmountUnits,
			Edge:           bet.Edge,
			Seed:           bet.Seed,
			CallerUser:     bet.CallerUser,
			CallerSeed:     bet.CallerSeed,
			ServerSeed:     bet.ServerSeed,
			FullSeed:       bet.FullSeed,
			RollHundredths: bet.RollHundredths,
			MakerWon:       bet.MakerWon,
			CreatedAt:      bet.CreatedAt,
			ExecutedAt:     bet.ExecutedAt,
			CancelledAt:    bet.CancelledAt,
		},
	}
	payload, _ := json.Marshal(e)
	return repo.Event{ID: e.EventID, Topic: topic, Key: bet.ID, Payload: payload}
}
