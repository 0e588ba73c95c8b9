package repo

import "time"

// Status possíveis de um lock de fundos. O ref (betId) é a chave de
// idempotência: cada transição da aposta toca no máximo um lock.
const (
	LockStatusLocked   = "LOCKED"
	LockStatusUnlocked = "UNLOCKED"
	LockStatusSettled  = "SETTLED"
)

type Lock struct {
	Ref         string
	UserID      string
	AmountUnits int64
	Status      string
	CreatedAt   time.Time
}

// Settlement é o registro imutável de uma liquidação executada.
// Guarda o resultado completo pra reconciliação poder reconstruir a
// transição no bet-service após um crash entre ledger e bet store.
type Settlement struct {
	Ref            string
	Tx             string
	Maker          string
	Caller         string
	MakerWon       bool
	AmountUnits    int64
	CallerSeed     string
	ServerSeed     string
	FullSeed       string
	RollHundredths int64
	ExecutedAt     time.Time
	CreatedAt      time.Time
}
