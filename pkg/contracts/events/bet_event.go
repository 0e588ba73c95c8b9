package events

import "time"

// Tipos de evento do ciclo de vida de uma aposta.
const (
	TypeBetCreated  = "bet_created"
	TypeBetCanceled = "bet_canceled"
	TypeBetCalled   = "bet_called"
)

// BetRecord é o registro completo da aposta como persistido no momento do commit.
type BetRecord struct {
	BetID          string     `json:"betId"`
	Maker          string     `json:"maker"`
	AmountUnits    int64      `json:"amountUnits"`
	Edge           float64    `json:"edge"`
	Seed           string     `json:"seed"`
	CallerUser     string     `json:"callerUser,omitempty"`
	CallerSeed     string     `json:"callerSeed,omitempty"`
	ServerSeed     string     `json:"serverSeed,omitempty"`
	FullSeed       string     `json:"fullSeed,omitempty"`
	RollHundredths int64      `json:"rollHundredths,omitempty"`
	MakerWon       *bool      `json:"makerWon,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExecutedAt     *time.Time `json:"executedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
}

// BetEvent é publicado no Kafka pelo outbox-dispatcher-worker após o commit
// da transição de estado. EventID permite dedup no consumidor (at-least-once).
type BetEvent struct {
	EventID string    `json:"eventId"`
	Type    string    `json:"type"`
	Bet     BetRecord `json:"bet"`
	Ts      time.Time `json:"ts"`
}
