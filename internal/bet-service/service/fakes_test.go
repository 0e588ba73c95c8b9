package service

import (
	"context"
	"sync"
	"time"

	ledgerdto "github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger/dto"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
)

// memStore implementa Store em memória, com os mesmos updates condicionais
// do repositório Postgres.
type memStore struct {
	mu     sync.Mutex
	bets   map[string]*repo.Bet
	events []repo.Event

	failCreate       error
	failMarkExecuted error
}

func newMemStore() *memStore {
	return &memStore{bets: map[string]*repo.Bet{}}
}

func (m *memStore) Create(_ context.Context, b *repo.Bet, evt repo.Event) (*repo.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	cp := *b
	m.bets[b.ID] = &cp
	m.events = append(m.events, evt)
	out := cp
	return &out, nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*repo.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) FindActive(_ context.Context) ([]repo.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Bet
	for _, b := range m.bets {
		if b.Open() {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) FindExecuted(_ context.Context) ([]repo.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Bet
	for _, b := range m.bets {
		if b.ExecutedAt != nil {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) Cancel(_ context.Context, id string, at time.Time, evt repo.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !b.Open() {
		return repo.ErrConflict
	}
	t := at
	b.CancelledAt = &t
	m.events = append(m.events, evt)
	return nil
}

func (m *memStore) MarkExecuted(_ context.Context, id string, up repo.ExecutionUpdate, evt repo.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkExecuted != nil {
		return m.failMarkExecuted
	}
	b, ok := m.bets[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !b.Open() {
		return repo.ErrConflict
	}
	b.CallerUser = up.CallerUser
	b.CallerSeed = up.CallerSeed
	b.ServerSeed = up.ServerSeed
	b.FullSeed = up.FullSeed
	b.RollHundredths = up.RollHundredths
	won := up.MakerWon
	b.MakerWon = &won
	at := up.ExecutedAt
	b.ExecutedAt = &at
	m.events = append(m.events, evt)
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Topic)
	}
	return out
}

// memLedger implementa Ledger em memória, replay-safe por ref como o
// ledger-service real.
type memLedger struct {
	mu       sync.Mutex
	balance  map[string]int64
	locked   map[string]int64
	lockRefs map[string]string // ref -> LOCKED|UNLOCKED|SETTLED
	settled  map[string]ledgerdto.ExecuteResponse

	lockCalls    int
	unlockCalls  int
	executeCalls int

	failLock    error
	failUnlock  error
	failExecute error
}

func newMemLedger() *memLedger {
	return &memLedger{
		balance:  map[string]int64{},
		locked:   map[string]int64{},
		lockRefs: map[string]string{},
		settled:  map[string]ledgerdto.ExecuteResponse{},
	}
}

func (m *memLedger) BalanceOf(_ context.Context, user string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[user], nil
}

func (m *memLedger) LockedBalanceOf(_ context.Context, user string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked[user], nil
}

func (m *memLedger) LockBalance(_ context.Context, user string, amount int64, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	if m.failLock != nil {
		return m.failLock
	}
	if m.lockRefs[ref] != "" {
		return nil // idempotente
	}
	m.balance[user] -= amount
	m.locked[user] += amount
	m.lockRefs[ref] = "LOCKED"
	return nil
}

func (m *memLedger) UnlockBalance(_ context.Context, user string, amount int64, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockCalls++
	if m.failUnlock != nil {
		return m.failUnlock
	}
	if m.lockRefs[ref] != "LOCKED" {
		return nil
	}
	m.balance[user] += amount
	m.locked[user] -= amount
	m.lockRefs[ref] = "UNLOCKED"
	return nil
}

func (m *memLedger) ExecuteBet(_ context.Context, req ledgerdto.ExecuteRequest) (ledgerdto.ExecuteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeCalls++
	if m.failExecute != nil {
		return ledgerdto.ExecuteResponse{}, m.failExecute
	}
	if prev, ok := m.settled[req.Ref]; ok {
		prev.Replayed = true
		return prev, nil
	}

	m.locked[req.Maker] -= req.AmountUnits
	m.balance[req.Maker] += req.AmountUnits
	winner, loser := req.Maker, req.Caller
	if !req.MakerWon {
		winner, loser = req.Caller, req.Maker
	}
	m.balance[loser] -= req.AmountUnits
	m.balance[winner] += req.AmountUnits
	m.lockRefs[req.Ref] = "SETTLED"

	resp := ledgerdto.ExecuteResponse{Tx: "tx-" + req.Ref, MakerWon: req.MakerWon}
	m.settled[req.Ref] = resp
	return resp, nil
}
