package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/dice"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger"
	ledgerdto "github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger/dto"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/lock"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/metrics"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
	"github.com/radieske/dice-bet-platform-poc/pkg/contracts/events"
	"github.com/radieske/dice-bet-platform-poc/pkg/contracts/topics"
)

// Store é o contrato de persistência de apostas consumido pelo serviço.
// Cancel e MarkExecuted são updates condicionais: devolvem repo.ErrConflict
// se a aposta já transicionou (segunda linha de defesa sob o lease por bet).
type Store interface {
	Create(ctx context.Context, b *repo.Bet, evt repo.Event) (*repo.Bet, error)
	FindByID(ctx context.Context, id string) (*repo.Bet, error)
	FindActive(ctx context.Context) ([]repo.Bet, error)
	FindExecuted(ctx context.Context) ([]repo.Bet, error)
	Cancel(ctx context.Context, id string, at time.Time, evt repo.Event) error
	MarkExecuted(ctx context.Context, id string, up repo.ExecutionUpdate, evt repo.Event) error
}

// Ledger é o contrato do saldo externo. Chamadas são potencialmente lentas e
// falíveis; o retry fica no adapter (idempotente por ref).
type Ledger interface {
	BalanceOf(ctx context.Context, user string) (int64, error)
	LockedBalanceOf(ctx context.Context, user string) (int64, error)
	LockBalance(ctx context.Context, user string, amount int64, ref string) error
	UnlockBalance(ctx context.Context, user string, amount int64, ref string) error
	ExecuteBet(ctx context.Context, req ledgerdto.ExecuteRequest) (ledgerdto.ExecuteResponse, error)
}

// Service orquestra o ciclo de vida das apostas p2p: criação com reserva de
// fundos, cancelamento com liberação e liquidação (call) com roll
// provably-fair mais transferência atômica do stake.
type Service struct {
	log    *zap.Logger
	store  Store
	ledger Ledger
	locks  lock.Locker

	now    func() time.Time
	rollFn func(makerSeed, callerSeed, betID string) (dice.RollResult, error)
}

func New(log *zap.Logger, store Store, lg Ledger, locks lock.Locker) *Service {
	return &Service{
		log:    log,
		store:  store,
		ledger: lg,
		locks:  locks,
		now:    time.Now,
		rollFn: dice.CalculateRoll,
	}
}

// CreateBetInput são os dados do maker na criação.
type CreateBetInput struct {
	User        string
	AmountUnits int64
	Edge        float64
	Seed        string
}

// CreateBet valida o saldo do maker, persiste a aposta aberta e bloqueia o
// stake no ledger. A checagem de saldo vem antes de qualquer mutação; o lock
// vem depois do insert pra que todo lock tenha uma aposta correspondente.
func (s *Service) CreateBet(ctx context.Context, in CreateBetInput) (*repo.Bet, error) {
	if in.User == "" || in.Seed == "" {
		return nil, fmt.Errorf("%w: user and seed required", ErrInvalidBet)
	}
	if in.AmountUnits <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidBet)
	}
	if in.Edge < -100 || in.Edge > 100 {
		return nil, fmt.Errorf("%w: edge out of range [-100,100]", ErrInvalidBet)
	}

	balance, err := s.ledger.BalanceOf(ctx, in.User)
	if err != nil {
		return nil, fmt.Errorf("ledger balance: %w", err)
	}
	if balance < in.AmountUnits {
		return nil, ErrInsufficientBalance
	}

	bet := &repo.Bet{
		ID:          uuid.NewString(),
		Maker:       in.User,
		AmountUnits: in.AmountUnits,
		Edge:        in.Edge,
		Seed:        in.Seed,
		CreatedAt:   s.now().UTC(),
	}

	created, err := s.store.Create(ctx, bet, newEvent(events.TypeBetCreated, topics.BetCreated, bet))
	if err != nil {
		return nil, fmt.Errorf("persist bet: %w", err)
	}

	if err := s.ledger.LockBalance(ctx, created.Maker, created.AmountUnits, created.ID); err != nil {
		// compensação: a aposta recém-criada não tem backing, cancela o registro
		s.compensateUnbacked(ctx, created)
		metrics.BetErrors.WithLabelValues("create", "lock").Inc()
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("ledger lock: %w", err)
	}

	metrics.BetsCreated.Inc()
	s.log.Info("bet created",
		zap.String("betId", created.ID),
		zap.String("maker", created.Maker),
		zap.Int64("amountUnits", created.AmountUnits),
	)
	return created, nil
}

func (s *Service) compensateUnbacked(ctx context.Context, bet *repo.Bet) {
	at := s.now().UTC()
	cancelled := *bet
	cancelled.CancelledAt = &at
	err := s.store.Cancel(ctx, bet.ID, at, newEvent(events.TypeBetCanceled, topics.BetCanceled, &cancelled))
	if err != nil {
		// fica pro reconciliation-worker: aposta aberta sem lock é cancelada lá
		s.log.Error("compensate unbacked bet failed", zap.String("betId", bet.ID), zap.Error(err))
	}
}

// GetActiveBets retorna apostas abertas, mais recentes primeiro. Sem efeitos.
func (s *Service) GetActiveBets(ctx context.Context) ([]repo.Bet, error) {
	return s.store.FindActive(ctx)
}

// GetExecutedBets retorna apostas liquidadas, mais recentes primeiro.
func (s *Service) GetExecutedBets(ctx context.Context) ([]repo.Bet, error) {
	return s.store.FindExecuted(ctx)
}

// CancelBet cancela uma aposta aberta do próprio maker e devolve o stake
// bloqueado. Serializada com CallBet pelo lease por betId.
func (s *Service) CancelBet(ctx context.Context, betID, requester string) (*repo.Bet, error) {
	release, err := s.locks.Acquire(ctx, betID)
	if err != nil {
		return nil, fmt.Errorf("acquire bet lock: %w", err)
	}
	defer release()

	bet, err := s.findOpen(ctx, betID)
	if err != nil {
		return nil, err
	}
	if requester != bet.Maker {
		return nil, ErrUnauthorized
	}

	locked, err := s.ledger.LockedBalanceOf(ctx, bet.Maker)
	if err != nil {
		return nil, fmt.Errorf("ledger locked balance: %w", err)
	}
	if locked < bet.AmountUnits {
		return nil, ErrInsufficientLockedBalance
	}

	at := s.now().UTC()
	cancelled := *bet
	cancelled.CancelledAt = &at

	err = s.store.Cancel(ctx, betID, at, newEvent(events.TypeBetCanceled, topics.BetCanceled, &cancelled))
	if errors.Is(err, repo.ErrConflict) {
		return nil, s.terminalError(ctx, betID)
	}
	if err != nil {
		return nil, fmt.Errorf("persist cancel: %w", err)
	}

	if err := s.ledger.UnlockBalance(ctx, bet.Maker, bet.AmountUnits, betID); err != nil {
		// registro já cancelado; o unlock pendente é reparado pela reconciliação
		metrics.BetErrors.WithLabelValues("cancel", "unlock").Inc()
		s.log.Error("unlock after cancel failed, flagged for reconciliation",
			zap.String("betId", betID), zap.Error(err))
		return nil, fmt.Errorf("ledger unlock: %w", err)
	}

	metrics.BetsCancelled.Inc()
	s.log.Info("bet cancelled", zap.String("betId", betID), zap.String("maker", bet.Maker))
	return &cancelled, nil
}

// CallBetResult é devolvido ao caller junto com a prova de fairness.
type CallBetResult struct {
	Tx            string
	SeedMessage   string
	ResultMessage string
	Bet           *repo.Bet
}

// CallBet aceita uma aposta aberta: deriva o roll dos seeds das duas partes,
// liquida o stake no ledger e grava a transição executed atomicamente.
// Mutuamente exclusiva com CancelBet/CallBet no mesmo betId; no máximo uma
// transição terminal vence.
func (s *Service) CallBet(ctx context.Context, betID, callerSeed, callerUser string) (*CallBetResult, error) {
	if callerSeed == "" || callerUser == "" {
		return nil, fmt.Errorf("%w: caller user and seed required", ErrInvalidBet)
	}

	release, err := s.locks.Acquire(ctx, betID)
	if err != nil {
		return nil, fmt.Errorf("acquire bet lock: %w", err)
	}
	defer release()

	bet, err := s.findOpen(ctx, betID)
	if err != nil {
		return nil, err
	}
	if callerUser == bet.Maker {
		return nil, ErrSelfCall
	}

	callerBalance, err := s.ledger.BalanceOf(ctx, callerUser)
	if err != nil {
		return nil, fmt.Errorf("ledger balance: %w", err)
	}
	if callerBalance < bet.AmountUnits {
		return nil, ErrInsufficientBalance
	}

	makerLocked, err := s.ledger.LockedBalanceOf(ctx, bet.Maker)
	if err != nil {
		return nil, fmt.Errorf("ledger locked balance: %w", err)
	}
	if makerLocked < bet.AmountUnits {
		return nil, ErrInsufficientMakerLockedBalance
	}

	roll, err := s.rollFn(bet.Seed, callerSeed, bet.ID)
	if err != nil {
		return nil, fmt.Errorf("calculate roll: %w", err)
	}
	makerWon := dice.MakerWon(roll.RollHundredths, bet.Edge)

	resp, err := s.ledger.ExecuteBet(ctx, ledgerdto.ExecuteRequest{
		Ref:            bet.ID,
		Maker:          bet.Maker,
		Caller:         callerUser,
		MakerWon:       makerWon,
		AmountUnits:    bet.AmountUnits,
		CallerSeed:     callerSeed,
		ServerSeed:     roll.ServerSeed,
		FullSeed:       roll.FullSeed,
		RollHundredths: roll.RollHundredths,
		ExecutedAt:     roll.ExecutedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		metrics.BetErrors.WithLabelValues("call", "execute").Inc()
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return nil, ErrInsufficientBalance
		case errors.Is(err, ledger.ErrLockNotActive), errors.Is(err, ledger.ErrNotFound):
			return nil, ErrInsufficientMakerLockedBalance
		}
		return nil, fmt.Errorf("ledger execute: %w", err)
	}
	if resp.Replayed && resp.MakerWon != makerWon {
		// liquidação de tentativa anterior com outro roll; não persiste o
		// resultado novo por cima, deixa a reconciliação completar
		s.log.Error("settlement replayed with diverging outcome",
			zap.String("betId", bet.ID), zap.Bool("stored", resp.MakerWon), zap.Bool("computed", makerWon))
		return nil, ErrSettlementConflict
	}

	up := repo.ExecutionUpdate{
		CallerUser:     callerUser,
		CallerSeed:     callerSeed,
		ServerSeed:     roll.ServerSeed,
		FullSeed:       roll.FullSeed,
		RollHundredths: roll.RollHundredths,
		MakerWon:       makerWon,
		ExecutedAt:     roll.ExecutedAt,
	}
	executed := applyExecution(bet, up)

	err = s.store.MarkExecuted(ctx, bet.ID, up, newEvent(events.TypeBetCalled, topics.BetCalled, executed))
	if errors.Is(err, repo.ErrConflict) {
		return nil, s.terminalError(ctx, betID)
	}
	if err != nil {
		// fundos já transferidos; o settlement registrado no ledger permite
		// à reconciliação refazer essa transição
		metrics.BetErrors.WithLabelValues("call", "persist").Inc()
		s.log.Error("persist execution failed, flagged for reconciliation",
			zap.String("betId", bet.ID), zap.Error(err))
		return nil, fmt.Errorf("persist execution: %w", err)
	}

	metrics.BetsCalled.Inc()
	metrics.RollDistribution.Observe(roll.Roll)
	s.log.Info("bet called",
		zap.String("betId", bet.ID),
		zap.String("caller", callerUser),
		zap.Float64("roll", roll.Roll),
		zap.Bool("makerWon", makerWon),
	)

	rollUnder := float64(dice.RollUnderHundredths(bet.Edge)) / 100
	outcome := "won"
	if makerWon {
		outcome = "lost"
	}
	return &CallBetResult{
		Tx: resp.Tx,
		SeedMessage: fmt.Sprintf(
			"We combined the makerSeed (%s), the callerSeed (%s) and the server seed (%s), and the betID (%s) in order to produce the fullSeed: %s",
			bet.Seed, callerSeed, roll.ServerSeed, bet.ID, roll.FullSeed),
		ResultMessage: fmt.Sprintf(
			"You rolled a %.2f (needed %.2f) and %s %.2f EBET!",
			roll.Roll, rollUnder, outcome, float64(bet.AmountUnits)/100),
		Bet: executed,
	}, nil
}

// findOpen busca a aposta e valida que ela ainda está aberta.
func (s *Service) findOpen(ctx context.Context, betID string) (*repo.Bet, error) {
	bet, err := s.store.FindByID(ctx, betID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find bet: %w", err)
	}
	if bet.CancelledAt != nil {
		return nil, ErrAlreadyCancelled
	}
	if bet.ExecutedAt != nil {
		return nil, ErrAlreadyExecuted
	}
	return bet, nil
}

// terminalError mapeia um conflito de update condicional pro erro terminal correto.
func (s *Service) terminalError(ctx context.Context, betID string) error {
	bet, err := s.store.FindByID(ctx, betID)
	if err != nil {
		return ErrAlreadyExecuted
	}
	if bet.CancelledAt != nil {
		return ErrAlreadyCancelled
	}
	return ErrAlreadyExecuted
}

func applyExecution(bet *repo.Bet, up repo.ExecutionUpdate) *repo.Bet {
	out := *bet
	out.CallerUser = up.CallerUser
	out.CallerSeed = up.CallerSeed
	out.ServerSeed = up.ServerSeed
	out.FullSeed = up.FullSeed
	out.RollHundredths = up.RollHundredths
	won := up.MakerWon
	out.MakerWon = &won
	at := up.ExecutedAt
	out.ExecutedAt = &at
	return &out
}

// newEvent monta o registro de outbox com o payload da aposta como commitada.
func newEvent(evtType, topic string, bet *repo.Bet) repo.Event {
	e := events.BetEvent{
		EventID: uuid.NewString(),
		Type:    evtType,
		Bet:     toRecord(bet),
		Ts:      time.Now().UTC(),
	}
	payload, _ := json.Marshal(e)
	return repo.Event{ID: e.EventID, Topic: topic, Key: bet.ID, Payload: payload}
}

func toRecord(b *repo.Bet) events.BetRecord {
	return events.BetRecord{
		BetID:          b.ID,
		Maker:          b.Maker,
		AmountUnits:    b.AmountUnits,
		Edge:           b.Edge,
		Seed:           b.Seed,
		CallerUser:     b.CallerUser,
		CallerSeed:     b.CallerSeed,
		ServerSeed:     b.ServerSeed,
		FullSeed:       b.FullSeed,
		RollHundredths: b.RollHundredths,
		MakerWon:       b.MakerWon,
		CreatedAt:      b.CreatedAt,
		ExecutedAt:     b.ExecutedAt,
		CancelledAt:    b.CancelledAt,
	}
}
