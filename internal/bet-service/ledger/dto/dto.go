package dto

type BalanceResponse struct {
	UserID      string `json:"userId"`
	AmountUnits int64  `json:"amountUnits"`
}

type LockRequest struct {
	UserID      string `json:"userId"`
	AmountUnits int64  `json:"amountUnits"`
	Ref         string `json:"ref"`
}

type LockResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

type ExecuteRequest struct {
	Ref            string `json:"ref"`
	Maker          string `json:"maker"`
	Caller         string `json:"caller"`
	MakerWon       bool   `json:"makerWon"`
	AmountUnits    int64  `json:"amountUnits"`
	CallerSeed     string `json:"callerSeed"`
	ServerSeed     string `json:"serverSeed"`
	FullSeed       string `json:"fullSeed"`
	RollHundredths int64  `json:"rollHundredths"`
	ExecutedAt     string `json:"executedAt"`
}

type ExecuteResponse struct {
	Tx       string `json:"tx"`
	MakerWon bool   `json:"makerWon"`
	Replayed bool   `json:"replayed"`
}

type SettlementResponse struct {
	Ref            string `json:"ref"`
	Tx             string `json:"tx"`
	Maker          string `json:"maker"`
	Caller         string `json:"caller"`
	MakerWon       bool   `json:"makerWon"`
	AmountUnits    int64  `json:"amountUnits"`
	CallerSeed     string `json:"callerSeed"`
	ServerSeed     string `json:"serverSeed"`
	FullSeed       string `json:"fullSeed"`
	RollHundredths int64  `json:"rollHundredths"`
	ExecutedAt     string `json:"executedAt"`
}
