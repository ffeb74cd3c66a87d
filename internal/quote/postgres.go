package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightquote/internal/rate"
)

const DefaultChunkSize = 50

// PgStore keeps quotes and bookings in Postgres.
type PgStore struct {
	db        *pgxpool.Pool
	chunkSize int
}

// NewPgStore returns a store that writes rates chunkSize at a time, one
// transaction per chunk.
func NewPgStore(db *pgxpool.Pool, chunkSize int) *PgStore {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &PgStore{db: db, chunkSize: chunkSize}
}

func (s *PgStore) SaveQuote(ctx context.Context, q Quote) error {
	req := q.Request
	origin, err := json.Marshal(req.Origin)
	if err != nil {
		return err
	}
	destination, err := json.Marshal(req.Destination)
	if err != nil {
		return err
	}
	lines, err := json.Marshal(req.Lines)
	if err != nil {
		return err
	}
	raw := string(req.Raw)
	if !json.Valid(req.Raw) {
		raw = "{}"
	}
	modes := make([]string, len(req.Modes))
	for i, m := range req.Modes {
		modes[i] = string(m)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO quote_requests (
			id, client_id, user_id, origin, destination, ship_date, modes, lines, raw, created_at
		) VALUES (
			$1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8::jsonb, $9::jsonb, $10
		)
	`,
		req.ID,
		req.ClientID,
		req.UserID,
		string(origin),
		string(destination),
		req.ShipDate,
		modes,
		string(lines),
		raw,
		req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quote request: %w", err)
	}

	for start := 0; start < len(q.Rates); start += s.chunkSize {
		end := min(start+s.chunkSize, len(q.Rates))
		if err := s.insertRates(ctx, req.ID, q.Rates[start:end]); err != nil {
			return &PartialSaveError{Saved: start, Err: fmt.Errorf("insert rates %d-%d: %w", start, end-1, err)}
		}
	}
	return nil
}

func (s *PgStore) insertRates(ctx context.Context, quoteID uuid.UUID, rates []MintedRate) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, m := range rates {
		raw := string(m.Rate.Raw)
		if !json.Valid(m.Rate.Raw) {
			raw = "{}"
		}
		batch.Queue(`
			INSERT INTO quote_rates (
				id, quote_request_id, provider_rate_id, position, mode,
				carrier_name, service_name, transit_days, total_cost, currency, raw
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9, $10, $11::jsonb
			)
		`,
			m.InternalID,
			quoteID,
			m.Rate.ID,
			m.Position,
			string(m.Rate.Mode),
			m.Rate.CarrierName,
			m.Rate.ServiceName,
			m.Rate.TransitDays,
			m.Rate.TotalCost,
			m.Rate.Currency,
			raw,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range rates {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) GetQuote(ctx context.Context, clientID string, quoteID uuid.UUID) (Quote, error) {
	var (
		q     Quote
		modes []string
		raw   []byte
	)
	req := &q.Request
	err := s.db.QueryRow(ctx, `
		SELECT id, client_id, user_id, origin, destination, ship_date, modes, lines, raw, created_at
		FROM quote_requests
		WHERE id = $1 AND client_id = $2
	`, quoteID, clientID).Scan(
		&req.ID, &req.ClientID, &req.UserID, &req.Origin, &req.Destination,
		&req.ShipDate, &modes, &req.Lines, &raw, &req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, ErrNotFound
	}
	if err != nil {
		return Quote{}, err
	}
	req.Raw = json.RawMessage(raw)
	for _, m := range modes {
		req.Modes = append(req.Modes, rate.Mode(m))
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, position, provider_rate_id, mode, carrier_name, service_name,
		       transit_days, total_cost, currency, raw
		FROM quote_rates
		WHERE quote_request_id = $1
		ORDER BY position
	`, quoteID)
	if err != nil {
		return Quote{}, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanRate(rows)
		if err != nil {
			return Quote{}, err
		}
		q.Rates = append(q.Rates, m)
	}
	return q, rows.Err()
}

func (s *PgStore) GetRate(ctx context.Context, quoteID, rateID uuid.UUID) (MintedRate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, position, provider_rate_id, mode, carrier_name, service_name,
		       transit_days, total_cost, currency, raw
		FROM quote_rates
		WHERE quote_request_id = $1 AND id = $2
	`, quoteID, rateID)
	m, err := scanRate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return MintedRate{}, ErrNotFound
	}
	return m, err
}

func scanRate(row pgx.Row) (MintedRate, error) {
	var (
		m    MintedRate
		mode string
		raw  []byte
	)
	err := row.Scan(
		&m.InternalID, &m.Position, &m.Rate.ID, &mode, &m.Rate.CarrierName, &m.Rate.ServiceName,
		&m.Rate.TransitDays, &m.Rate.TotalCost, &m.Rate.Currency, &raw,
	)
	if err != nil {
		return MintedRate{}, err
	}
	m.Rate.Mode = rate.Mode(mode)
	m.Rate.Raw = json.RawMessage(raw)
	return m, nil
}

func (s *PgStore) CreateBooking(ctx context.Context, b Booking) error {
	rateJSON, err := json.Marshal(b.Rate)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO bookings (
			id, client_id, quote_request_id, quote_rate_id, confirmation_number,
			status, rate, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::jsonb, $8, $8
		)
	`,
		b.ID,
		b.ClientID,
		b.QuoteID,
		b.RateID,
		nullIfEmpty(b.ConfirmationNumber),
		string(b.Status),
		string(rateJSON),
		b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrNotFound
		}
		return err
	}
	return nil
}

const bookingColumns = `id, client_id, quote_request_id, quote_rate_id,
	COALESCE(confirmation_number, ''), status, rate, created_at, updated_at`

func (s *PgStore) FindBooking(ctx context.Context, ref string) (Booking, error) {
	var row pgx.Row
	if id, err := uuid.Parse(ref); err == nil {
		row = s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	} else {
		row = s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE confirmation_number = $1`, ref)
	}
	return scanBooking(row)
}

func (s *PgStore) SetBookingStatus(ctx context.Context, id uuid.UUID, status BookingStatus, confirmation string) (Booking, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    confirmation_number = COALESCE($3, confirmation_number),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+bookingColumns,
		id, string(status), nullIfEmpty(confirmation))
	b, err := scanBooking(row)
	if errors.Is(err, ErrNotFound) {
		// Either the booking is gone or it already left pending.
		if _, ferr := s.FindBooking(ctx, id.String()); ferr == nil {
			return Booking{}, ErrInvalidTransition
		}
	}
	return b, err
}

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b       Booking
		status  string
		rateRaw []byte
	)
	err := row.Scan(&b.ID, &b.ClientID, &b.QuoteID, &b.RateID, &b.ConfirmationNumber,
		&status, &rateRaw, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, err
	}
	b.Status = BookingStatus(status)
	if len(rateRaw) > 0 {
		if err := json.Unmarshal(rateRaw, &b.Rate); err != nil {
			return Booking{}, fmt.Errorf("decode booking rate: %w", err)
		}
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
