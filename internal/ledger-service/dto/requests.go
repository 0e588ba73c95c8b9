package dto

type DepositRequest struct {
	UserID      string `json:"userId"`
	AmountUnits int64  `json:"amountUnits"`
	ExternalRef string `json:"externalRef"`
}

type LockRequest struct {
	UserID      string `json:"userId"`
	AmountUnits int64  `json:"amountUnits"`
	Ref         string `json:"ref"` // betId; idempotência por ref
}

type UnlockRequest struct {
	UserID      string `json:"userId"`
	AmountUnits int64  `json:"amountUnits"`
	Ref         string `json:"ref"`
}

// ExecuteRequest liquida a aposta: transfere o stake bloqueado para o vencedor.
// Carrega o resultado completo do sorteio para que o registro de settlement
// seja suficiente pra reconciliação reconstruir a transição no bet-service.
type ExecuteRequest struct {
	Ref            string `json:"ref"` // betId
	Maker          string `json:"maker"`
	Caller         string `json:"caller"`
	MakerWon       bool   `json:"makerWon"`
	AmountUnits    int64  `json:"amountUnits"`
	CallerSeed     string `json:"callerSeed"`
	ServerSeed     string `json:"serverSeed"`
	FullSeed       string `json:"fullSeed"`
	RollHundredths int64  `json:"rollHundredths"`
	ExecutedAt     string `json:"executedAt"` // RFC3339
}
