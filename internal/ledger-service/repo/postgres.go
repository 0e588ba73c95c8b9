package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	// ErrLockNotActive indica que o lock do ref já foi liberado ou liquidado.
	ErrLockNotActive = errors.New("lock not active")
)

// Postgres implementa operações de ledger em banco
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// GetOrCreateAccount retorna saldos de um usuário, criando a conta se não existir
// Usa transação para garantir atomicidade
func (p *Postgres) GetOrCreateAccount(ctx context.Context, userID string) (balance, locked int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT balance_units, locked_units FROM accounts WHERE user_id=$1`,
		userID).Scan(&balance, &locked)
	if err == sql.ErrNoRows {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO accounts(id, user_id, balance_units, locked_units, version) VALUES($1,$2,0,0,1)`,
			uuid.NewString(), userID); err != nil {
			return 0, 0, err
		}
		balance, locked = 0, 0
	} else if err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return balance, locked, nil
}

// Deposit incrementa o saldo disponível e registra a operação no ledger
func (p *Postgres) Deposit(ctx context.Context, userID string, amount int64, externalRef string) (newBalance int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id string
	if err = tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE user_id=$1 FOR UPDATE`, userID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}

	if err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET balance_units = balance_units + $1, version = version + 1
		WHERE id=$2 RETURNING balance_units`, amount, id).Scan(&newBalance); err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(account_id, operation_type, amount_units, description)
		VALUES($1,'CREDIT',$2,$3)`, id, amount, "deposit:"+externalRef); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Lock move fundos de disponível para bloqueado, backing de uma aposta aberta.
// Idempotente por ref: repetir com o mesmo ref não bloqueia duas vezes.
func (p *Postgres) Lock(ctx context.Context, userID string, amount int64, ref string) (status string, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Idempotência: lock já registrado para o ref
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT status FROM ledger_locks WHERE ref=$1`, ref).Scan(&existing)
	if err == nil {
		return existing, tx.Commit()
	} else if err != sql.ErrNoRows {
		return "", err
	}

	var accountID string
	var balance int64
	if err = tx.QueryRowContext(ctx,
		`SELECT id, balance_units FROM accounts WHERE user_id=$1 FOR UPDATE`,
		userID).Scan(&accountID, &balance); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}

	if balance < amount {
		return "", ErrInsufficientFunds
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance_units = balance_units - $1,
		       locked_units = locked_units + $1, version = version + 1
		WHERE id=$2`, amount, accountID); err != nil {
		return "", err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_locks(ref, user_id, amount_units, status) VALUES($1,$2,$3,'LOCKED')`,
		ref, userID, amount); err != nil {
		return "", err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(account_id, operation_type, amount_units, description)
		VALUES($1,'LOCK',$2,$3)`, accountID, amount, "lock:"+ref); err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return LockStatusLocked, nil
}

// Unlock devolve fundos bloqueados para o saldo disponível (cancelamento).
// Idempotente: se o lock já foi liberado, não faz nada; se já foi liquidado,
// devolve ErrLockNotActive.
func (p *Postgres) Unlock(ctx context.Context, userID string, amount int64, ref string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var accountID, status string
	if err = tx.QueryRowContext(ctx, `
		SELECT a.id, l.status
		FROM ledger_locks l
		JOIN accounts a ON a.user_id = l.user_id
		WHERE l.ref=$1
		FOR UPDATE`, ref).Scan(&accountID, &status); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	if status == LockStatusUnlocked {
		return tx.Commit() // já tratado
	}
	if status == LockStatusSettled {
		return ErrLockNotActive
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance_units = balance_units + $1,
		       locked_units = locked_units - $1, version = version + 1
		WHERE id=$2`, amount, accountID); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE ledger_locks SET status='UNLOCKED' WHERE ref=$1`, ref); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(account_id, operation_type, amount_units, description)
		VALUES($1,'UNLOCK',$2,$3)`, accountID, amount, "unlock:"+ref); err != nil {
		return err
	}

	return tx.Commit()
}

// Execute liquida a aposta atomicamente: libera o lock do maker e transfere o
// stake do perdedor para o vencedor. Replay-safe por ref: repetir devolve o
// settlement original sem mover fundos de novo.
func (p *Postgres) Execute(ctx context.Context, s Settlement) (Settlement, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, false, err
	}
	defer tx.Rollback()

	// Replay: settlement já registrado para o ref
	if existing, err := getSettlementTx(ctx, tx, s.Ref); err == nil {
		return existing, true, tx.Commit()
	} else if err != ErrNotFound {
		return Settlement{}, false, err
	}

	var lockStatus string
	var lockAmount int64
	if err = tx.QueryRowContext(ctx,
		`SELECT status, amount_units FROM ledger_locks WHERE ref=$1 FOR UPDATE`,
		s.Ref).Scan(&lockStatus, &lockAmount); err != nil {
		if err == sql.ErrNoRows {
			return Settlement{}, false, ErrNotFound
		}
		return Settlement{}, false, err
	}
	if lockStatus != LockStatusLocked || lockAmount < s.AmountUnits {
		return Settlement{}, false, ErrLockNotActive
	}

	// Lock das duas contas em ordem determinística pra evitar deadlock
	first, second := s.Maker, s.Caller
	if second < first {
		first, second = second, first
	}
	accounts := map[string]string{}
	for _, u := range []string{first, second} {
		var id string
		if err = tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE user_id=$1 FOR UPDATE`, u).Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return Settlement{}, false, ErrNotFound
			}
			return Settlement{}, false, err
		}
		accounts[u] = id
	}

	var callerBalance int64
	if err = tx.QueryRowContext(ctx, `SELECT balance_units FROM accounts WHERE id=$1`,
		accounts[s.Caller]).Scan(&callerBalance); err != nil {
		return Settlement{}, false, err
	}
	if callerBalance < s.AmountUnits {
		return Settlement{}, false, ErrInsufficientFunds
	}

	// Devolve o stake bloqueado do maker ao saldo disponível
	if _, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance_units = balance_units + $1,
		       locked_units = locked_units - $1, version = version + 1
		WHERE id=$2`, s.AmountUnits, accounts[s.Maker]); err != nil {
		return Settlement{}, false, err
	}

	// Transfere o stake do perdedor pro vencedor
	winner, loser := s.Maker, s.Caller
	if !s.MakerWon {
		winner, loser = s.Caller, s.Maker
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance_units = balance_units - $1, version = version + 1
		WHERE id=$2`, s.AmountUnits, accounts[loser]); err != nil {
		return Settlement{}, false, err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance_units = balance_units + $1, version = version + 1
		WHERE id=$2`, s.AmountUnits, accounts[winner]); err != nil {
		return Settlement{}, false, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE ledger_locks SET status='SETTLED' WHERE ref=$1`, s.Ref); err != nil {
		return Settlement{}, false, err
	}

	s.Tx = uuid.NewString()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_settlements(ref, tx_id, maker, caller, maker_won, amount_units,
			caller_seed, server_seed, full_seed, roll_hundredths, executed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.Ref, s.Tx, s.Maker, s.Caller, s.MakerWon, s.AmountUnits,
		s.CallerSeed, s.ServerSeed, s.FullSeed, s.RollHundredths, s.ExecutedAt); err != nil {
		return Settlement{}, false, err
	}

	for _, e := range []struct {
		account string
		op      string
	}{
		{accounts[loser], "SETTLE_DEBIT"},
		{accounts[winner], "SETTLE_CREDIT"},
	} {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries(account_id, operation_type, amount_units, description)
			VALUES($1,$2,$3,$4)`, e.account, e.op, s.AmountUnits, "settle:"+s.Ref); err != nil {
			return Settlement{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Settlement{}, false, err
	}
	return s, false, nil
}

// GetLock retorna o estado do lock de um ref, usado pela reconciliação.
func (p *Postgres) GetLock(ctx context.Context, ref string) (Lock, error) {
	var l Lock
	err := p.db.QueryRowContext(ctx, `
		SELECT ref, user_id, amount_units, status, created_at
		FROM ledger_locks WHERE ref=$1`, ref).
		Scan(&l.Ref, &l.UserID, &l.AmountUnits, &l.Status, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return Lock{}, ErrNotFound
	}
	return l, err
}

// GetSettlement retorna a liquidação registrada para um ref.
func (p *Postgres) GetSettlement(ctx context.Context, ref string) (Settlement, error) {
	row := p.db.QueryRowContext(ctx, settlementSelect+` WHERE ref=$1`, ref)
	var s Settlement
	err := row.Scan(&s.Ref, &s.Tx, &s.Maker, &s.Caller, &s.MakerWon, &s.AmountUnits,
		&s.CallerSeed, &s.ServerSeed, &s.FullSeed, &s.RollHundredths, &s.ExecutedAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return Settlement{}, ErrNotFound
	}
	return s, err
}

const settlementSelect = `
	SELECT ref, tx_id, maker, caller, maker_won, amount_units,
	       caller_seed, server_seed, full_seed, roll_hundredths, executed_at, created_at
	FROM ledger_settlements`

func getSettlementTx(ctx context.Context, tx *sql.Tx, ref string) (Settlement, error) {
	row := tx.QueryRowContext(ctx, settlementSelect+` WHERE ref=$1`, ref)
	var s Settlement
	err := row.Scan(&s.Ref, &s.Tx, &s.Maker, &s.Caller, &s.MakerWon, &s.AmountUnits,
		&s.CallerSeed, &s.ServerSeed, &s.FullSeed, &s.RollHundredths, &s.ExecutedAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return Settlement{}, ErrNotFound
	}
	return s, err
}
