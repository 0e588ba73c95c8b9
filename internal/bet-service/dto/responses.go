package dto

import (
	"time"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/repo"
)

type BetResponse struct {
	BetID       string     `json:"betId"`
	Maker       string     `json:"maker"`
	AmountUnits int64      `json:"amountUnits"`
	Edge        float64    `json:"edge"`
	CallerUser  string     `json:"callerUser,omitempty"`
	ServerSeed  string     `json:"serverSeed,omitempty"`
	FullSeed    string     `json:"fullSeed,omitempty"`
	Roll        *float64   `json:"roll,omitempty"`
	MakerWon    *bool      `json:"makerWon,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExecutedAt  *time.Time `json:"executedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// FromBet converte o modelo persistido pra resposta pública.
// O seed do maker não é exposto enquanto a aposta está aberta.
func FromBet(b *repo.Bet) BetResponse {
	out := BetResponse{
		BetID:       b.ID,
		Maker:       b.Maker,
		AmountUnits: b.AmountUnits,
		Edge:        b.Edge,
		CallerUser:  b.CallerUser,
		CreatedAt:   b.CreatedAt,
		ExecutedAt:  b.ExecutedAt,
		CancelledAt: b.CancelledAt,
	}
	if b.ExecutedAt != nil {
		out.ServerSeed = b.ServerSeed
		out.FullSeed = b.FullSeed
		roll := b.Roll()
		out.Roll = &roll
		out.MakerWon = b.MakerWon
	}
	return out
}

type CallBetResponse struct {
	Tx            string      `json:"tx"`
	SeedMessage   string      `json:"seedMessage"`
	ResultMessage string      `json:"resultMessage"`
	Bet           BetResponse `json:"bet"`
}
