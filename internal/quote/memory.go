package quote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. It backs the server when no
// database is configured and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	quotes   map[uuid.UUID]Quote
	bookings map[uuid.UUID]Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:   make(map[uuid.UUID]Quote),
		bookings: make(map[uuid.UUID]Booking),
	}
}

func (s *MemoryStore) SaveQuote(_ context.Context, q Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rates := make([]MintedRate, len(q.Rates))
	copy(rates, q.Rates)
	q.Rates = rates
	s.quotes[q.Request.ID] = q
	return nil
}

func (s *MemoryStore) GetQuote(_ context.Context, clientID string, quoteID uuid.UUID) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[quoteID]
	if !ok || q.Request.ClientID != clientID {
		return Quote{}, ErrNotFound
	}
	return q, nil
}

func (s *MemoryStore) GetRate(_ context.Context, quoteID, rateID uuid.UUID) (MintedRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return MintedRate{}, ErrNotFound
	}
	for _, m := range q.Rates {
		if m.InternalID == rateID {
			return m, nil
		}
	}
	return MintedRate{}, ErrNotFound
}

func (s *MemoryStore) CreateBooking(_ context.Context, b Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.QuoteID != nil {
		if _, ok := s.quotes[*b.QuoteID]; !ok {
			return ErrNotFound
		}
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *MemoryStore) FindBooking(_ context.Context, ref string) (Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(ref)
}

func (s *MemoryStore) SetBookingStatus(_ context.Context, id uuid.UUID, status BookingStatus, confirmation string) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	if !CanTransition(b.Status, status) {
		return Booking{}, ErrInvalidTransition
	}
	b.Status = status
	if confirmation != "" {
		b.ConfirmationNumber = confirmation
	}
	b.UpdatedAt = time.Now().UTC()
	s.bookings[id] = b
	return b, nil
}

// Bookings returns the number of stored bookings.
func (s *MemoryStore) Bookings() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bookings)
}

func (s *MemoryStore) find(ref string) (Booking, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if b, ok := s.bookings[id]; ok {
			return b, nil
		}
	}
	for _, b := range s.bookings {
		if b.ConfirmationNumber != "" && b.ConfirmationNumber == ref {
			return b, nil
		}
	}
	return Booking{}, ErrNotFound
}
