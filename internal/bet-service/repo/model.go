package repo

import "time"

// Bet é o modelo persistido no Postgres.
// Os campos de execução (CallerUser..MakerWon) são gravados juntos, uma única
// vez, na transição para executed. No máximo um de ExecutedAt/CancelledAt é
// não-nulo; uma vez terminal, o registro é imutável.
type Bet struct {
	ID             string
	Maker          string
	AmountUnits    int64 // centésimos de token (500 = 5.00 EBET)
	Edge           float64
	Seed           string
	CallerUser     string
	CallerSeed     string
	ServerSeed     string
	FullSeed       string
	RollHundredths int64
	MakerWon       *bool
	CreatedAt      time.Time
	ExecutedAt     *time.Time
	CancelledAt    *time.Time
}

// Roll retorna o roll em [0,100) com duas casas decimais.
func (b *Bet) Roll() float64 { return float64(b.RollHundredths) / 100 }

// Open indica se a aposta ainda aceita cancel/call.
func (b *Bet) Open() bool { return b.ExecutedAt == nil && b.CancelledAt == nil }

// ExecutionUpdate agrupa os campos gravados atomicamente na transição para executed.
type ExecutionUpdate struct {
	CallerUser     string
	CallerSeed     string
	ServerSeed     string
	FullSeed       string
	RollHundredths int64
	MakerWon       bool
	ExecutedAt     time.Time
}
