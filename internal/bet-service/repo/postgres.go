package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/dice-bet-platform-poc/internal/bet-service/outbox"
)

var (
	ErrNotFound = errors.New("bet not found")
	// ErrConflict indica que a aposta já transicionou para estado terminal;
	// o update condicional não afetou nenhuma linha.
	ErrConflict = errors.New("bet already in terminal state")
)

// Postgres implementa operações de persistência de apostas em banco Postgres
type Postgres struct{ db *sql.DB }

// NewPostgres retorna uma instância do repositório de apostas
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Event é o registro de outbox gravado na mesma transação da mutação.
type Event struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

// Create insere uma aposta aberta e o evento bet_created em uma transação só.
func (p *Postgres) Create(ctx context.Context, b *Bet, evt Event) (*Bet, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bets (id, maker, amount_units, edge, seed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		b.ID, b.Maker, b.AmountUnits, b.Edge, b.Seed, b.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := outbox.InsertTx(ctx, tx, evt.ID, evt.Topic, evt.Key, evt.Payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

// FindByID retorna a aposta ou ErrNotFound.
func (p *Postgres) FindByID(ctx context.Context, id string) (*Bet, error) {
	row := p.db.QueryRowContext(ctx, betSelect+` WHERE id=$1`, id)
	b, err := scanBet(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

// FindActive retorna apostas abertas, mais recentes primeiro.
func (p *Postgres) FindActive(ctx context.Context) ([]Bet, error) {
	return p.query(ctx, betSelect+`
		WHERE cancelled_at IS NULL AND executed_at IS NULL
		ORDER BY created_at DESC`)
}

// FindExecuted retorna apostas executadas, mais recentes primeiro.
func (p *Postgres) FindExecuted(ctx context.Context) ([]Bet, error) {
	return p.query(ctx, betSelect+`
		WHERE executed_at IS NOT NULL
		ORDER BY executed_at DESC`)
}

// FindOpenOlderThan retorna apostas abertas criadas antes do instante dado.
// Usada pelo reconciliation-worker para detectar drift entre bet e ledger.
func (p *Postgres) FindOpenOlderThan(ctx context.Context, cutoff time.Time) ([]Bet, error) {
	return p.query(ctx, betSelect+`
		WHERE cancelled_at IS NULL AND executed_at IS NULL AND created_at < $1
		ORDER BY created_at ASC`, cutoff)
}

// FindCancelledAfter retorna apostas canceladas a partir do instante dado.
func (p *Postgres) FindCancelledAfter(ctx context.Context, since time.Time) ([]Bet, error) {
	return p.query(ctx, betSelect+`
		WHERE cancelled_at IS NOT NULL AND cancelled_at >= $1
		ORDER BY cancelled_at ASC`, since)
}

// Cancel marca a aposta como cancelada, condicionado a ela ainda estar aberta.
// Retorna ErrConflict se outra transição venceu a corrida.
func (p *Postgres) Cancel(ctx context.Context, id string, at time.Time, evt Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bets SET cancelled_at=$2
		WHERE id=$1 AND cancelled_at IS NULL AND executed_at IS NULL`,
		id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}

	if err := outbox.InsertTx(ctx, tx, evt.ID, evt.Topic, evt.Key, evt.Payload); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkExecuted grava a transição para executed: todos os campos do resultado
// em um único update condicional, junto com o evento bet_called.
func (p *Postgres) MarkExecuted(ctx context.Context, id string, up ExecutionUpdate, evt Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bets SET
			executed_at=$2, caller_user=$3, caller_seed=$4,
			server_seed=$5, full_seed=$6, roll_hundredths=$7, maker_won=$8
		WHERE id=$1 AND cancelled_at IS NULL AND executed_at IS NULL`,
		id, up.ExecutedAt, up.CallerUser, up.CallerSeed,
		up.ServerSeed, up.FullSeed, up.RollHundredths, up.MakerWon)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}

	if err := outbox.InsertTx(ctx, tx, evt.ID, evt.Topic, evt.Key, evt.Payload); err != nil {
		return err
	}
	return tx.Commit()
}

const betSelect = `
	SELECT id, maker, amount_units, edge, seed,
	       caller_user, caller_seed, server_seed, full_seed,
	       roll_hundredths, maker_won, created_at, executed_at, cancelled_at
	FROM bets`

type scanner interface{ Scan(dest ...any) error }

func scanBet(row scanner) (*Bet, error) {
	var b Bet
	var callerUser, callerSeed, serverSeed, fullSeed sql.NullString
	var rollHundredths sql.NullInt64
	var makerWon sql.NullBool
	var executedAt, cancelledAt sql.NullTime

	err := row.Scan(&b.ID, &b.Maker, &b.AmountUnits, &b.Edge, &b.Seed,
		&callerUser, &callerSeed, &serverSeed, &fullSeed,
		&rollHundredths, &makerWon, &b.CreatedAt, &executedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}

	b.CallerUser = callerUser.String
	b.CallerSeed = callerSeed.String
	b.ServerSeed = serverSeed.String
	b.FullSeed = fullSeed.String
	b.RollHundredths = rollHundredths.Int64
	if makerWon.Valid {
		v := makerWon.Bool
		b.MakerWon = &v
	}
	if executedAt.Valid {
		t := executedAt.Time
		b.ExecutedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

func (p *Postgres) query(ctx context.Context, q string, args ...any) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
