package quota

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore keeps counters in client_quotas. A client without a row has
// nothing remaining.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Get(ctx context.Context, clientID string) (Quota, error) {
	q := Quota{ClientID: clientID}
	err := s.db.QueryRow(ctx, `
		SELECT tokens_remaining, tokens_used
		FROM client_quotas
		WHERE client_id = $1
	`, clientID).Scan(&q.Remaining, &q.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return q, nil
	}
	if err != nil {
		return Quota{}, err
	}
	return q, nil
}

// Consume decrements in a single guarded UPDATE so the row lock serializes
// racing searches; the loser matches no row.
func (s *PgStore) Consume(ctx context.Context, clientID string) (Quota, error) {
	q := Quota{ClientID: clientID}
	err := s.db.QueryRow(ctx, `
		UPDATE client_quotas
		SET tokens_remaining = tokens_remaining - 1,
		    tokens_used = tokens_used + 1,
		    updated_at = NOW()
		WHERE client_id = $1 AND tokens_remaining > 0
		RETURNING tokens_remaining, tokens_used
	`, clientID).Scan(&q.Remaining, &q.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return q, ErrQuotaExhausted
	}
	if err != nil {
		return Quota{}, err
	}
	return q, nil
}

func (s *PgStore) TopUp(ctx context.Context, clientID string, amount int64) (Quota, error) {
	q := Quota{ClientID: clientID}
	err := s.db.QueryRow(ctx, `
		INSERT INTO client_quotas (client_id, tokens_remaining, tokens_used, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (client_id) DO UPDATE
		SET tokens_remaining = client_quotas.tokens_remaining + EXCLUDED.tokens_remaining,
		    updated_at = NOW()
		RETURNING tokens_remaining, tokens_used
	`, clientID, amount).Scan(&q.Remaining, &q.Used)
	if err != nil {
		return Quota{}, err
	}
	return q, nil
}
