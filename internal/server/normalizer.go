package server

import (
	"encoding/json"
	"errors"
	"strings"

	"freightquote/internal/probe"
	"freightquote/internal/quote"
)

// BookingEvent is a provider status update for one booking.
type BookingEvent struct {
	Reference          string
	Status             quote.BookingStatus
	ConfirmationNumber string
	Raw                json.RawMessage
}

// Normalizer maps provider-specific webhook payloads into a BookingEvent.
type Normalizer interface {
	Normalize(source string, body []byte) (BookingEvent, error)
}

var (
	// ErrMissingReference is returned when a payload names no booking.
	ErrMissingReference = errors.New("missing booking reference")
	// ErrUnknownStatus is returned for statuses that map to no booking state.
	ErrUnknownStatus = errors.New("unknown booking status")
)

// NewNormalizer selects a normalizer for the given source.
// Currently returns DefaultNormalizer for all sources.
func NewNormalizer(source string) Normalizer { return &DefaultNormalizer{} }

// DefaultNormalizer attempts to extract common fields from diverse payloads.
type DefaultNormalizer struct{}

func (n *DefaultNormalizer) Normalize(source string, body []byte) (BookingEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return BookingEvent{}, err
	}
	ref := probe.String(payload,
		"booking_id", "bookingId", "booking.id",
		"reference", "booking_reference", "bookingReference",
		"confirmation_number", "confirmationNumber", "booking.confirmation_number")
	if ref == "" {
		return BookingEvent{}, ErrMissingReference
	}
	status, ok := bookingStatus(probe.String(payload, "status", "booking.status", "event.status", "state"))
	if !ok {
		return BookingEvent{}, ErrUnknownStatus
	}
	return BookingEvent{
		Reference:          ref,
		Status:             status,
		ConfirmationNumber: probe.String(payload, "pro_number", "proNumber", "carrier_confirmation", "booking.pro_number"),
		Raw:                json.RawMessage(body),
	}, nil
}

func bookingStatus(s string) (quote.BookingStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed", "booked", "accepted", "dispatched":
		return quote.StatusConfirmed, true
	case "cancelled", "canceled", "rejected", "void", "voided":
		return quote.StatusCancelled, true
	case "pending":
		return quote.StatusPending, true
	default:
		return "", false
	}
}
