// Package quote persists rate searches and resolves bookings against them.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"freightquote/internal/rate"
)

var (
	// ErrNotFound means a quote, rate or booking reference did not resolve
	// for the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the booking is no longer pending.
	ErrInvalidTransition = errors.New("invalid booking status transition")
)

// PartialSaveError reports a quote whose request and first Saved rates were
// stored before a later write failed. Those rates stay bookable.
type PartialSaveError struct {
	Saved int
	Err   error
}

func (e *PartialSaveError) Error() string {
	return fmt.Sprintf("quote saved with %d rates: %v", e.Saved, e.Err)
}

func (e *PartialSaveError) Unwrap() error { return e.Err }

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

// MintedRate pairs a normalized rate with the internal id bookings use.
// Provider ids are neither stable nor unique across searches.
type MintedRate struct {
	InternalID uuid.UUID
	Position   int
	Rate       rate.NormalizedRate
}

// Quote is a search and its rates in price order.
type Quote struct {
	Request rate.QuoteRequest
	Rates   []MintedRate
}

// Mint assigns an internal id to every rate. The ids are known before the
// quote is written, so they can be returned without waiting on storage.
func Mint(q rate.QuoteRequest, rates []rate.NormalizedRate) Quote {
	out := Quote{Request: q, Rates: make([]MintedRate, len(rates))}
	for i, r := range rates {
		out.Rates[i] = MintedRate{InternalID: uuid.New(), Position: i, Rate: r}
	}
	return out
}

// IDMap maps provider rate ids to internal ids.
func (q Quote) IDMap() map[string]uuid.UUID {
	m := make(map[string]uuid.UUID, len(q.Rates))
	for _, r := range q.Rates {
		if _, dup := m[r.Rate.ID]; !dup {
			m[r.Rate.ID] = r.InternalID
		}
	}
	return m
}

// Booking is created pending and moves at most once, to confirmed or
// cancelled. QuoteID and RateID are nil for bookings made from a raw rate
// payload.
type Booking struct {
	ID                 uuid.UUID
	ClientID           string
	QuoteID            *uuid.UUID
	RateID             *uuid.UUID
	ConfirmationNumber string
	Status             BookingStatus
	Rate               rate.NormalizedRate
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanTransition reports whether a booking in from may move to to.
func CanTransition(from, to BookingStatus) bool {
	return from == StatusPending && (to == StatusConfirmed || to == StatusCancelled)
}

// Store is the durable side of quotes and bookings. Lookups that do not
// resolve return ErrNotFound.
type Store interface {
	SaveQuote(ctx context.Context, q Quote) error
	// GetQuote returns the quote only when it belongs to clientID.
	GetQuote(ctx context.Context, clientID string, quoteID uuid.UUID) (Quote, error)
	GetRate(ctx context.Context, quoteID, rateID uuid.UUID) (MintedRate, error)
	CreateBooking(ctx context.Context, b Booking) error
	// FindBooking matches a booking id or confirmation number.
	FindBooking(ctx context.Context, ref string) (Booking, error)
	// SetBookingStatus moves a pending booking to status. A blank
	// confirmation keeps the current one.
	SetBookingStatus(ctx context.Context, id uuid.UUID, status BookingStatus, confirmation string) (Booking, error)
}
