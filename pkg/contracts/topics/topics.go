package topics

const (
	// Ciclo de vida das apostas p2p
	BetCreated  = "bet_created"
	BetCanceled = "bet_canceled"
	BetCalled   = "bet_called"

	// DLQ
	BetEventsDLQ = "bet_events_dlq"
)
