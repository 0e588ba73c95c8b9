package dice

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Resultado de um roll provably-fair. Roll fica em [0,100) com exatamente
// duas casas decimais; RollHundredths é o mesmo valor em centésimos inteiros
// e deve ser usado em qualquer comparação (evita divergência de float).
type RollResult struct {
	Roll           float64
	RollHundredths int64
	ServerSeed     string
	FullSeed       string
	ExecutedAt     time.Time
}

// NewServerSeed gera um server seed de 32 bytes (hex) via crypto/rand.
func NewServerSeed() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("server seed: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// CalculateRoll gera um server seed novo e deriva o roll a partir dos seeds
// das duas partes mais o betId.
func CalculateRoll(makerSeed, callerSeed, betID string) (RollResult, error) {
	serverSeed, err := NewServerSeed()
	if err != nil {
		return RollResult{}, err
	}
	fullSeed, hundredths := Derive(makerSeed, callerSeed, serverSeed, betID)
	return RollResult{
		Roll:           float64(hundredths) / 100,
		RollHundredths: hundredths,
		ServerSeed:     serverSeed,
		FullSeed:       fullSeed,
		ExecutedAt:     time.Now().UTC(),
	}, nil
}

// Derive é a função de verificação: dado o que foi persistido, qualquer parte
// recomputa fullSeed e roll e obtém exatamente os valores armazenados.
// fullSeed = hex(sha512(makerSeed|callerSeed|serverSeed|betId));
// roll = primeiros 8 bytes do digest (big-endian) mod 10000, em centésimos.
func Derive(makerSeed, callerSeed, serverSeed, betID string) (fullSeed string, rollHundredths int64) {
	h := sha512.Sum512([]byte(makerSeed + "|" + callerSeed + "|" + serverSeed + "|" + betID))
	fullSeed = hex.EncodeToString(h[:])
	rollHundredths = int64(binary.BigEndian.Uint64(h[:8]) % 10000)
	return fullSeed, rollHundredths
}

// RollUnderHundredths converte o edge em limiar de vitória do maker, em
// centésimos: rollUnder = 50 + edge/2.
func RollUnderHundredths(edge float64) int64 {
	return 5000 + int64(math.Round(edge*50))
}

// MakerWon decide o vencedor; o limiar é inclusivo (roll == rollUnder ganha o maker).
func MakerWon(rollHundredths int64, edge float64) bool {
	return rollHundredths <= RollUnderHundredths(edge)
}
