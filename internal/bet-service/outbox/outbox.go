package outbox

import (
	"context"
	"database/sql"
	"time"
)

// Row é um evento pendente de publicação. ID é o event id (uuid) usado para
// dedup no consumidor; Key é o betId, preservando a ordenação por aposta.
type Row struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
	Attempts  int
}

// InsertTx grava o evento na mesma transação da mutação de estado da aposta,
// garantindo que commit + evento sejam atômicos (outbox pattern).
func InsertTx(ctx context.Context, tx *sql.Tx, id, topic, key string, payload []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bet_outbox (id, topic, key, payload)
		VALUES ($1,$2,$3,$4)`,
		id, topic, key, payload)
	return err
}

// ListPending retorna eventos ainda não enviados, mais antigos primeiro.
func ListPending(ctx context.Context, db *sql.DB, limit int) ([]Row, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, topic, key, payload, created_at, attempts
		FROM bet_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Topic, &r.Key, &r.Payload, &r.CreatedAt, &r.Attempts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkSent marca o evento como publicado.
func MarkSent(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE bet_outbox SET sent_at=NOW() WHERE id=$1`, id)
	return err
}

// MarkFailed registra a falha de publicação e incrementa a contagem de tentativas.
func MarkFailed(ctx context.Context, db *sql.DB, id string, reason string) error {
	if len(reason) > 240 {
		reason = reason[:240]
	}
	_, err := db.ExecContext(ctx, `
		UPDATE bet_outbox SET attempts = attempts + 1, last_error=$2 WHERE id=$1`,
		id, reason)
	return err
}
