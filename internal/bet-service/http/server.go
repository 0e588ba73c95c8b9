package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/dto"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/service"
)

// Lifecycle é a superfície do bet lifecycle manager exposta pela API.
type Lifecycle interface {
	CreateBet(ctx context.Context, in service.CreateBetInput) (*repo.Bet, error)
	GetActiveBets(ctx context.Context) ([]repo.Bet, error)
	GetExecutedBets(ctx context.Context) ([]repo.Bet, error)
	CancelBet(ctx context.Context, betID, requester string) (*repo.Bet, error)
	CallBet(ctx context.Context, betID, callerSeed, callerUser string) (*service.CallBetResult, error)
}

type Server struct {
	log *zap.Logger
	svc Lifecycle
}

func NewServer(log *zap.Logger, svc Lifecycle) *Server {
	return &Server{log: log, svc: svc}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bets", s.createBet)           // POST
	mux.HandleFunc("/bets/active", s.activeBets)   // GET
	mux.HandleFunc("/bets/executed", s.executed)   // GET
	mux.HandleFunc("/bets/", s.betAction)          // POST /bets/{id}/cancel | /bets/{id}/call
	return mux
}

func (s *Server) createBet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.CreateBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	bet, err := s.svc.CreateBet(r.Context(), service.CreateBetInput{
		User:        req.User,
		AmountUnits: req.AmountUnits,
		Edge:        req.Edge,
		Seed:        req.Seed,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, dto.FromBet(bet))
}

func (s *Server) activeBets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bets, err := s.svc.GetActiveBets(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, toResponses(bets))
}

func (s *Server) executed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bets, err := s.svc.GetExecutedBets(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, toResponses(bets))
}

// betAction roteia POST /bets/{id}/cancel e POST /bets/{id}/call
func (s *Server) betAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/bets/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "betId required", http.StatusBadRequest)
		return
	}
	betID, action := parts[0], parts[1]

	switch action {
	case "cancel":
		var req dto.CancelBetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.User == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		bet, err := s.svc.CancelBet(r.Context(), betID, req.User)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, dto.FromBet(bet))

	case "call":
		var req dto.CallBetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.CallerUser == "" || req.CallerSeed == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		res, err := s.svc.CallBet(r.Context(), betID, req.CallerSeed, req.CallerUser)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, dto.CallBetResponse{
			Tx:            res.Tx,
			SeedMessage:   res.SeedMessage,
			ResultMessage: res.ResultMessage,
			Bet:           dto.FromBet(res.Bet),
		})

	default:
		http.Error(w, "unknown action", http.StatusNotFound)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidBet):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrAlreadyCancelled),
		errors.Is(err, service.ErrAlreadyExecuted),
		errors.Is(err, service.ErrSelfCall),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrInsufficientLockedBalance),
		errors.Is(err, service.ErrInsufficientMakerLockedBalance):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("bet api", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toResponses(bets []repo.Bet) []dto.BetResponse {
	out := make([]dto.BetResponse, 0, len(bets))
	for i := range bets {
		out = append(out, dto.FromBet(&bets[i]))
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
