package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightquote/internal/rate"
)

// PostalLocator fills blank city/state from the postal_codes table and
// defers to Fallback for anything it cannot resolve.
type PostalLocator struct {
	db       *pgxpool.Pool
	fallback rate.Locator
	logger   *slog.Logger
}

func NewPostalLocator(pool *pgxpool.Pool, fallback rate.Locator, logger *slog.Logger) *PostalLocator {
	if fallback == nil {
		fallback = rate.PlaceholderLocator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostalLocator{db: pool, fallback: fallback, logger: logger}
}

func (p *PostalLocator) Resolve(ctx context.Context, loc rate.Location) rate.Location {
	if strings.TrimSpace(loc.City) != "" && strings.TrimSpace(loc.State) != "" {
		return loc
	}
	var city, state string
	err := p.db.QueryRow(ctx, `
		SELECT city, state
		FROM postal_codes
		WHERE country = $1 AND postal_code = $2
	`, strings.ToUpper(strings.TrimSpace(loc.Country)), strings.TrimSpace(loc.PostalCode)).Scan(&city, &state)
	switch {
	case err == nil:
		if strings.TrimSpace(loc.City) == "" {
			loc.City = city
		}
		if strings.TrimSpace(loc.State) == "" {
			loc.State = state
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		p.logger.WarnContext(ctx, "postal lookup failed; using placeholders",
			"country", loc.Country,
			"postal_code", loc.PostalCode,
			"error", err)
	}
	return p.fallback.Resolve(ctx, loc)
}
