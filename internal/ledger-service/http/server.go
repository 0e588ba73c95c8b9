package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/ledger-service/dto"
	"github.com/radieske/dice-bet-platform-poc/internal/ledger-service/repo"
)

// Repo define a interface de operações de ledger usadas pelo handler HTTP
type Repo interface {
	GetOrCreateAccount(ctx context.Context, userID string) (balance, locked int64, err error)
	Deposit(ctx context.Context, userID string, amount int64, externalRef string) (newBalance int64, err error)
	Lock(ctx context.Context, userID string, amount int64, ref string) (status string, err error)
	Unlock(ctx context.Context, userID string, amount int64, ref string) error
	Execute(ctx context.Context, s repo.Settlement) (repo.Settlement, bool, error)
	GetLock(ctx context.Context, ref string) (repo.Lock, error)
	GetSettlement(ctx context.Context, ref string) (repo.Settlement, error)
}

// Server expõe endpoints HTTP para operações de ledger
type Server struct {
	log  *zap.Logger
	repo Repo
}

// NewServer instancia o servidor HTTP do ledger
func NewServer(log *zap.Logger, repo Repo) *Server { return &Server{log: log, repo: repo} }

// Router retorna o mux HTTP com as rotas da API do ledger
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ledger/balance", s.balance)        // GET ?userId=...
	mux.HandleFunc("/ledger/locked", s.locked)          // GET ?userId=...
	mux.HandleFunc("/ledger/deposit", s.deposit)        // POST
	mux.HandleFunc("/ledger/lock", s.lock)              // POST
	mux.HandleFunc("/ledger/unlock", s.unlock)          // POST
	mux.HandleFunc("/ledger/execute", s.execute)        // POST
	mux.HandleFunc("/ledger/lock/", s.getLock)          // GET /ledger/lock/{ref}
	mux.HandleFunc("/ledger/settlement/", s.settlement) // GET /ledger/settlement/{ref}
	return mux
}

// balance retorna o saldo disponível do usuário, criando a conta se preciso
func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	bal, _, err := s.repo.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, dto.BalanceResponse{UserID: userID, AmountUnits: bal})
}

// locked retorna o saldo bloqueado do usuário
func (s *Server) locked(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	_, locked, err := s.repo.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, dto.BalanceResponse{UserID: userID, AmountUnits: locked})
}

// deposit adiciona saldo à conta do usuário
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.AmountUnits <= 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	// garante conta antes do FOR UPDATE
	if _, _, err := s.repo.GetOrCreateAccount(r.Context(), req.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bal, err := s.repo.Deposit(r.Context(), req.UserID, req.AmountUnits, req.ExternalRef)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, dto.BalanceResponse{UserID: req.UserID, AmountUnits: bal})
}

// lock bloqueia fundos do usuário como backing de uma aposta
func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	var req dto.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.AmountUnits <= 0 || req.Ref == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	status, err := s.repo.Lock(r.Context(), req.UserID, req.AmountUnits, req.Ref)
	if err != nil {
		writeRepoErr(w, err)
		return
	}
	writeJSON(w, dto.LockResponse{Ref: req.Ref, Status: status})
}

// unlock devolve fundos bloqueados ao saldo disponível
func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var req dto.UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.AmountUnits <= 0 || req.Ref == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.repo.Unlock(r.Context(), req.UserID, req.AmountUnits, req.Ref); err != nil {
		writeRepoErr(w, err)
		return
	}
	writeJSON(w, dto.LockResponse{Ref: req.Ref, Status: repo.LockStatusUnlocked})
}

// execute liquida a aposta: transferência atômica do stake para o vencedor
func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req dto.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Ref == "" || req.Maker == "" || req.Caller == "" || req.AmountUnits <= 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	executedAt, err := time.Parse(time.RFC3339Nano, req.ExecutedAt)
	if err != nil {
		http.Error(w, "invalid executedAt", http.StatusBadRequest)
		return
	}

	settled, replayed, err := s.repo.Execute(r.Context(), repo.Settlement{
		Ref:            req.Ref,
		Maker:          req.Maker,
		Caller:         req.Caller,
		MakerWon:       req.MakerWon,
		AmountUnits:    req.AmountUnits,
		CallerSeed:     req.CallerSeed,
		ServerSeed:     req.ServerSeed,
		FullSeed:       req.FullSeed,
		RollHundredths: req.RollHundredths,
		ExecutedAt:     executedAt,
	})
	if err != nil {
		writeRepoErr(w, err)
		return
	}
	if replayed {
		s.log.Warn("settlement replayed", zap.String("ref", req.Ref), zap.String("tx", settled.Tx))
	}
	writeJSON(w, dto.ExecuteResponse{Tx: settled.Tx, MakerWon: settled.MakerWon, Replayed: replayed})
}

// getLock retorna o estado do lock de um ref (betId)
func (s *Server) getLock(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/ledger/lock/")
	if ref == "" {
		http.Error(w, "ref required", http.StatusBadRequest)
		return
	}
	l, err := s.repo.GetLock(r.Context(), ref)
	if err != nil {
		writeRepoErr(w, err)
		return
	}
	writeJSON(w, dto.LockResponse{Ref: l.Ref, Status: l.Status})
}

// settlement retorna a liquidação registrada para um ref (betId)
func (s *Server) settlement(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/ledger/settlement/")
	if ref == "" {
		http.Error(w, "ref required", http.StatusBadRequest)
		return
	}
	st, err := s.repo.GetSettlement(r.Context(), ref)
	if err != nil {
		writeRepoErr(w, err)
		return
	}
	writeJSON(w, dto.SettlementResponse{
		Ref:            st.Ref,
		Tx:             st.Tx,
		Maker:          st.Maker,
		Caller:         st.Caller,
		MakerWon:       st.MakerWon,
		AmountUnits:    st.AmountUnits,
		CallerSeed:     st.CallerSeed,
		ServerSeed:     st.ServerSeed,
		FullSeed:       st.FullSeed,
		RollHundredths: st.RollHundredths,
		ExecutedAt:     st.ExecutedAt.Format(time.RFC3339Nano),
	})
}

func writeRepoErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repo.ErrInsufficientFunds), errors.Is(err, repo.ErrLockNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
