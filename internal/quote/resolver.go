package quote

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"freightquote/internal/provider"
	"freightquote/internal/rate"
)

// BookRequest names the rate to book. QuoteID and RateRef (an internal rate
// id) are the normal path; Rate is a raw provider rate used only when no
// quote id is given.
type BookRequest struct {
	ClientID string
	QuoteID  string
	RateRef  string
	Rate     map[string]any
}

type Resolver struct {
	store     Store
	confirmer provider.Confirmer
	logger    *slog.Logger
}

// NewResolver builds a resolver. confirmer may be nil, in which case every
// booking gets a locally generated confirmation number.
func NewResolver(store Store, confirmer provider.Confirmer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, confirmer: confirmer, logger: logger}
}

// Book creates a pending booking for the referenced rate. It returns
// ErrNotFound when the quote is not the caller's or the rate is not part of
// it; no booking is written in that case.
func (r *Resolver) Book(ctx context.Context, req BookRequest) (Booking, error) {
	b := Booking{
		ID:       uuid.New(),
		ClientID: req.ClientID,
		Status:   StatusPending,
	}
	switch {
	case strings.TrimSpace(req.QuoteID) != "":
		quoteID, err := uuid.Parse(strings.TrimSpace(req.QuoteID))
		if err != nil {
			return Booking{}, ErrNotFound
		}
		rateID, err := uuid.Parse(strings.TrimSpace(req.RateRef))
		if err != nil {
			return Booking{}, ErrNotFound
		}
		if _, err := r.store.GetQuote(ctx, req.ClientID, quoteID); err != nil {
			return Booking{}, err
		}
		minted, err := r.store.GetRate(ctx, quoteID, rateID)
		if err != nil {
			return Booking{}, err
		}
		b.QuoteID, b.RateID, b.Rate = &quoteID, &rateID, minted.Rate
	case len(req.Rate) > 0:
		rates := rate.NormalizeRates([]rate.RawRate{{Fields: req.Rate}})
		if len(rates) == 0 {
			return Booking{}, &rate.ValidationError{Field: "rate", Reason: "payload carries no usable rate"}
		}
		b.Rate = rates[0]
	default:
		return Booking{}, &rate.ValidationError{Field: "quote_id", Reason: "required"}
	}

	b.ConfirmationNumber = r.confirm(ctx, b.Rate)
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	if err := r.store.CreateBooking(ctx, b); err != nil {
		return Booking{}, err
	}
	r.logger.InfoContext(ctx, "booking created",
		"booking_id", b.ID,
		"client_id", b.ClientID,
		"confirmation_number", b.ConfirmationNumber,
		"carrier", b.Rate.CarrierName)
	return b, nil
}

func (r *Resolver) confirm(ctx context.Context, nr rate.NormalizedRate) string {
	if r.confirmer != nil {
		number, err := r.confirmer.Confirm(ctx, nr)
		if err == nil && strings.TrimSpace(number) != "" {
			return strings.TrimSpace(number)
		}
		r.logger.WarnContext(ctx, "provider confirmation unavailable; issuing local number",
			"rate_id", nr.ID,
			"error", err)
	}
	return LocalConfirmationNumber()
}

// LocalConfirmationNumber returns a BK- prefixed identifier.
func LocalConfirmationNumber() string {
	id := uuid.New()
	return "BK-" + strings.ToUpper(hex.EncodeToString(id[:6]))
}

// UpdateStatus applies an external status event to a booking found by id or
// confirmation number.
func (r *Resolver) UpdateStatus(ctx context.Context, ref string, status BookingStatus, confirmation string) (Booking, error) {
	b, err := r.store.FindBooking(ctx, ref)
	if err != nil {
		return Booking{}, err
	}
	if !CanTransition(b.Status, status) {
		return b, ErrInvalidTransition
	}
	return r.store.SetBookingStatus(ctx, b.ID, status, confirmation)
}
