package service

import "errors"

// Falhas síncronas do ciclo de vida, devolvidas diretamente ao chamador.
// Falhas de validação abortam antes de qualquer mutação.
var (
	ErrInvalidBet                     = errors.New("invalid bet")
	ErrInsufficientBalance            = errors.New("insufficient balance for bet")
	ErrInsufficientLockedBalance      = errors.New("locked balance is less than bet amount")
	ErrInsufficientMakerLockedBalance = errors.New("maker locked balance is less than bet amount")
	ErrNotFound                       = errors.New("bet not found")
	ErrAlreadyCancelled               = errors.New("bet already cancelled")
	ErrAlreadyExecuted                = errors.New("bet already called")
	ErrUnauthorized                   = errors.New("can't cancel someone else's bet")
	ErrSelfCall                       = errors.New("can't call your own bet")

	// ErrSettlementConflict: o ledger já tinha liquidado esse ref numa
	// tentativa anterior com resultado divergente; a reconciliação completa
	// a transição a partir do settlement registrado.
	ErrSettlementConflict = errors.New("settlement conflict, pending reconciliation")
)
