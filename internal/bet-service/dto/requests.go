package dto

type CreateBetRequest struct {
	User        string  `json:"user"`
	AmountUnits int64   `json:"amountUnits"`
	Edge        float64 `json:"edge"`
	Seed        string  `json:"seed"`
}

type CancelBetRequest struct {
	User string `json:"user"`
}

type CallBetRequest struct {
	CallerUser string `json:"callerUser"`
	CallerSeed string `json:"callerSeed"`
}
