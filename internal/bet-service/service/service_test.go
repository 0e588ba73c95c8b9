package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/dice"
	ledgerdto "github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger/dto"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/lock"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
)

func newTestService(store *memStore, lg *memLedger) *Service {
	return New(zap.NewNop(), store, lg, lock.NewMemory())
}

func fixedRoll(hundredths int64) func(string, string, string) (dice.RollResult, error) {
	return func(makerSeed, callerSeed, betID string) (dice.RollResult, error) {
		return dice.RollResult{
			Roll:           float64(hundredths) / 100,
			RollHundredths: hundredths,
			ServerSeed:     "server-seed",
			FullSeed:       "full-seed",
			ExecutedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}, nil
	}
}

func TestCreateBet(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	lg.balance["alice"] = 1000
	svc := newTestService(store, lg)

	bet, err := svc.CreateBet(context.Background(), CreateBetInput{
		User: "alice", AmountUnits: 500, Edge: 10, Seed: "alice-seed",
	})
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}
	if bet.ID == "" {
		t.Fatal("bet ID not assigned")
	}
	if !bet.Open() {
		t.Fatal("new bet should be open")
	}
	if lg.lockCalls != 1 {
		t.Fatalf("expected 1 lock call, got %d", lg.lockCalls)
	}
	if lg.locked["alice"] != 500 || lg.balance["alice"] != 500 {
		t.Fatalf("ledger state wrong: balance=%d locked=%d", lg.balance["alice"], lg.locked["alice"])
	}
	if got := store.eventTypes(); len(got) != 1 || got[0] != "bet_created" {
		t.Fatalf("expected bet_created event, got %v", got)
	}
}

func TestCreateBetInsufficientBalance(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	lg.balance["alice"] = 100
	svc := newTestService(store, lg)

	_, err := svc.CreateBet(context.Background(), CreateBetInput{
		User: "alice", AmountUnits: 500, Edge: 0, Seed: "s",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(store.bets) != 0 {
		t.Fatal("no bet record should be created")
	}
	if lg.lockCalls != 0 {
		t.Fatal("no lock call should be issued")
	}
}

func TestCreateBetValidation(t *testing.T) {
	svc := newTestService(newMemStore(), newMemLedger())

	cases := []CreateBetInput{
		{User: "", AmountUnits: 100, Edge: 0, Seed: "s"},
		{User: "u", AmountUnits: 0, Edge: 0, Seed: "s"},
		{User: "u", AmountUnits: -5, Edge: 0, Seed: "s"},
		{User: "u", AmountUnits: 100, Edge: 101, Seed: "s"},
		{User: "u", AmountUnits: 100, Edge: -101, Seed: "s"},
		{User: "u", AmountUnits: 100, Edge: 0, Seed: ""},
	}
	for _, in := range cases {
		if _, err := svc.CreateBet(context.Background(), in); !errors.Is(err, ErrInvalidBet) {
			t.Errorf("input %+v: expected ErrInvalidBet, got %v", in, err)
		}
	}
}

func TestCreateBetCompensatesFailedLock(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	lg.balance["alice"] = 1000
	lg.failLock = errors.New("ledger down")
	svc := newTestService(store, lg)

	_, err := svc.CreateBet(context.Background(), CreateBetInput{
		User: "alice", AmountUnits: 500, Edge: 0, Seed: "s",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, b := range store.bets {
		if b.CancelledAt == nil {
			t.Fatal("unbacked bet should have been cancelled")
		}
	}
	types := store.eventTypes()
	if len(types) != 2 || types[1] != "bet_canceled" {
		t.Fatalf("expected bet_created + bet_canceled events, got %v", types)
	}
}

func seedBet(store *memStore, lg *memLedger, id string) *repo.Bet {
	bet := &repo.Bet{
		ID: id, Maker: "alice", AmountUnits: 500, Edge: 0,
		Seed: "alice-seed", CreatedAt: time.Now().UTC(),
	}
	store.bets[id] = bet
	lg.locked["alice"] = 500
	lg.lockRefs[id] = "LOCKED"
	return bet
}

func TestCancelBet(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	svc := newTestService(store, lg)

	bet, err := svc.CancelBet(context.Background(), "bet-1", "alice")
	if err != nil {
		t.Fatalf("CancelBet: %v", err)
	}
	if bet.CancelledAt == nil {
		t.Fatal("cancelledAt not set")
	}
	if bet.ExecutedAt != nil {
		t.Fatal("cancelled bet must not be executed")
	}
	if lg.unlockCalls != 1 {
		t.Fatalf("expected 1 unlock call, got %d", lg.unlockCalls)
	}
	if lg.locked["alice"] != 0 || lg.balance["alice"] != 500 {
		t.Fatalf("stake not returned: balance=%d locked=%d", lg.balance["alice"], lg.locked["alice"])
	}
}

func TestCancelBetUnauthorized(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	svc := newTestService(store, lg)

	_, err := svc.CancelBet(context.Background(), "bet-1", "mallory")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if lg.unlockCalls != 0 {
		t.Fatal("no unlock call should be issued")
	}
}

func TestCancelBetErrors(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	svc := newTestService(store, lg)
	ctx := context.Background()

	if _, err := svc.CancelBet(ctx, "nope", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bet := seedBet(store, lg, "bet-1")
	now := time.Now().UTC()
	bet.CancelledAt = &now
	if _, err := svc.CancelBet(ctx, "bet-1", "alice"); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}

	bet2 := seedBet(store, lg, "bet-2")
	bet2.ExecutedAt = &now
	if _, err := svc.CancelBet(ctx, "bet-2", "alice"); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}

	seedBet(store, lg, "bet-3")
	lg.locked["alice"] = 100
	if _, err := svc.CancelBet(ctx, "bet-3", "alice"); !errors.Is(err, ErrInsufficientLockedBalance) {
		t.Fatalf("expected ErrInsufficientLockedBalance, got %v", err)
	}
}

func TestCallBet(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	lg.balance["bob"] = 500
	svc := newTestService(store, lg)
	svc.rollFn = fixedRoll(4999) // edge 0 -> rollUnder 50.00, maker wins

	res, err := svc.CallBet(context.Background(), "bet-1", "bob-seed", "bob")
	if err != nil {
		t.Fatalf("CallBet: %v", err)
	}
	if res.Tx != "tx-bet-1" {
		t.Fatalf("unexpected tx: %s", res.Tx)
	}

	bet := res.Bet
	if bet.ExecutedAt == nil {
		t.Fatal("executedAt not set")
	}
	if bet.CancelledAt != nil {
		t.Fatal("executed bet must not be cancelled")
	}
	if bet.CallerUser != "bob" || bet.CallerSeed != "bob-seed" {
		t.Fatalf("caller fields wrong: %+v", bet)
	}
	if bet.ServerSeed == "" || bet.FullSeed == "" {
		t.Fatal("seed fields must be set with execution")
	}
	if bet.MakerWon == nil || !*bet.MakerWon {
		t.Fatal("maker should have won with roll 49.99 and edge 0")
	}

	// maker ganhou: recebe o stake de volta + o stake do bob
	if lg.balance["alice"] != 1000 || lg.locked["alice"] != 0 {
		t.Fatalf("maker balance wrong: balance=%d locked=%d", lg.balance["alice"], lg.locked["alice"])
	}
	if lg.balance["bob"] != 0 {
		t.Fatalf("caller balance wrong: %d", lg.balance["bob"])
	}

	if !strings.Contains(res.SeedMessage, "alice-seed") ||
		!strings.Contains(res.SeedMessage, "bob-seed") ||
		!strings.Contains(res.SeedMessage, "full-seed") ||
		!strings.Contains(res.SeedMessage, "bet-1") {
		t.Fatalf("seed message incomplete: %s", res.SeedMessage)
	}
	if !strings.Contains(res.ResultMessage, "49.99") ||
		!strings.Contains(res.ResultMessage, "50.00") ||
		!strings.Contains(res.ResultMessage, "lost") ||
		!strings.Contains(res.ResultMessage, "5.00 EBET") {
		t.Fatalf("result message wrong: %s", res.ResultMessage)
	}
}

func TestCallBetCallerWins(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	lg.balance["bob"] = 500
	svc := newTestService(store, lg)
	svc.rollFn = fixedRoll(5001) // edge 0 -> rollUnder 50.00, caller wins

	res, err := svc.CallBet(context.Background(), "bet-1", "bob-seed", "bob")
	if err != nil {
		t.Fatalf("CallBet: %v", err)
	}
	if res.Bet.MakerWon == nil || *res.Bet.MakerWon {
		t.Fatal("caller should have won with roll 50.01 and edge 0")
	}
	if lg.balance["bob"] != 1000 {
		t.Fatalf("caller should hold both stakes, got %d", lg.balance["bob"])
	}
	if !strings.Contains(res.ResultMessage, "won") {
		t.Fatalf("result message should say won: %s", res.ResultMessage)
	}
}

func TestCallBetInclusiveBoundaryWithEdge(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	bet := seedBet(store, lg, "bet-1")
	bet.Edge = -20 // rollUnder 40.00
	lg.balance["bob"] = 500
	svc := newTestService(store, lg)
	svc.rollFn = fixedRoll(4000)

	res, err := svc.CallBet(context.Background(), "bet-1", "bob-seed", "bob")
	if err != nil {
		t.Fatalf("CallBet: %v", err)
	}
	if res.Bet.MakerWon == nil || !*res.Bet.MakerWon {
		t.Fatal("roll 40.00 with edge -20 is an inclusive win for the maker")
	}
}

func TestCallBetValidationErrors(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	svc := newTestService(store, lg)
	ctx := context.Background()

	if _, err := svc.CallBet(ctx, "missing", "s", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.CallBet(ctx, "bet-1", "s", "alice"); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("expected ErrSelfCall, got %v", err)
	}
	// bob sem saldo
	if _, err := svc.CallBet(ctx, "bet-1", "s", "bob"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	lg.balance["bob"] = 500
	lg.locked["alice"] = 100
	if _, err := svc.CallBet(ctx, "bet-1", "s", "bob"); !errors.Is(err, ErrInsufficientMakerLockedBalance) {
		t.Fatalf("expected ErrInsufficientMakerLockedBalance, got %v", err)
	}

	if lg.executeCalls != 0 {
		t.Fatal("no settlement should be issued on validation failure")
	}
}

func TestCallBetEventPayload(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	lg.balance["bob"] = 500
	svc := newTestService(store, lg)
	svc.rollFn = fixedRoll(1234)

	if _, err := svc.CallBet(context.Background(), "bet-1", "bob-seed", "bob"); err != nil {
		t.Fatalf("CallBet: %v", err)
	}
	types := store.eventTypes()
	if len(types) != 1 || types[0] != "bet_called" {
		t.Fatalf("expected bet_called event, got %v", types)
	}
	if !strings.Contains(string(store.events[0].Payload), `"rollHundredths":1234`) {
		t.Fatalf("event payload should carry the committed bet: %s", store.events[0].Payload)
	}
}

// Transições terminais são exclusivas: call e cancel concorrentes no mesmo
// betId produzem exatamente um sucesso.
func TestCallAndCancelConcurrent(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := newMemStore()
		lg := newMemLedger()
		seedBet(store, lg, "bet-1")
		lg.balance["bob"] = 500
		svc := newTestService(store, lg)
		svc.rollFn = fixedRoll(4999)

		var wg sync.WaitGroup
		var callErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, callErr = svc.CallBet(context.Background(), "bet-1", "bob-seed", "bob")
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = svc.CancelBet(context.Background(), "bet-1", "alice")
		}()
		wg.Wait()

		if (callErr == nil) == (cancelErr == nil) {
			t.Fatalf("exactly one of call/cancel must win: call=%v cancel=%v", callErr, cancelErr)
		}
		if callErr != nil && !errors.Is(callErr, ErrAlreadyCancelled) {
			t.Fatalf("loser call should see ErrAlreadyCancelled, got %v", callErr)
		}
		if cancelErr != nil && !errors.Is(cancelErr, ErrAlreadyExecuted) {
			t.Fatalf("loser cancel should see ErrAlreadyExecuted, got %v", cancelErr)
		}

		bet := store.bets["bet-1"]
		if bet.CancelledAt != nil && bet.ExecutedAt != nil {
			t.Fatal("bet must never be both cancelled and executed")
		}
	}
}

func TestCallBetSettlementReplayConflict(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "bet-1")
	lg.balance["bob"] = 500
	// liquidação anterior registrada com resultado oposto
	lg.settled["bet-1"] = ledgerdto.ExecuteResponse{Tx: "tx-old", MakerWon: false}

	svc := newTestService(store, lg)
	svc.rollFn = fixedRoll(4999) // computaria makerWon=true

	_, err := svc.CallBet(context.Background(), "bet-1", "bob-seed", "bob")
	if !errors.Is(err, ErrSettlementConflict) {
		t.Fatalf("expected ErrSettlementConflict, got %v", err)
	}
	if store.bets["bet-1"].ExecutedAt != nil {
		t.Fatal("diverging outcome must not be persisted")
	}
}

func TestQueries(t *testing.T) {
	store := newMemStore()
	lg := newMemLedger()
	seedBet(store, lg, "open-1")
	done := seedBet(store, lg, "done-1")
	now := time.Now().UTC()
	done.ExecutedAt = &now
	gone := seedBet(store, lg, "gone-1")
	gone.CancelledAt = &now
	svc := newTestService(store, lg)

	active, err := svc.GetActiveBets(context.Background())
	if err != nil {
		t.Fatalf("GetActiveBets: %v", err)
	}
	for _, b := range active {
		if b.ExecutedAt != nil || b.CancelledAt != nil {
			t.Fatalf("active bets must be open, got %+v", b)
		}
	}
	if len(active) != 1 || active[0].ID != "open-1" {
		t.Fatalf("expected only open-1, got %v", active)
	}

	executed, err := svc.GetExecutedBets(context.Background())
	if err != nil {
		t.Fatalf("GetExecutedBets: %v", err)
	}
	if len(executed) != 1 || executed[0].ID != "done-1" {
		t.Fatalf("expected only done-1, got %v", executed)
	}
}
