// Package quota meters successful rate searches per client.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrQuotaExhausted means the client has no searches left.
	ErrQuotaExhausted = errors.New("quota exhausted")
	ErrInvalidAmount  = errors.New("top-up amount must be positive")
)

// Quota is a client's search allowance. Remaining never goes below zero.
type Quota struct {
	ClientID  string `json:"client_id"`
	Remaining int64  `json:"tokens_remaining"`
	Used      int64  `json:"tokens_used"`
}

// Store persists quota counters. Consume must be atomic in the store itself:
// when Remaining is 1, exactly one of any number of concurrent callers
// succeeds and the rest get ErrQuotaExhausted.
type Store interface {
	Get(ctx context.Context, clientID string) (Quota, error)
	Consume(ctx context.Context, clientID string) (Quota, error)
	TopUp(ctx context.Context, clientID string, amount int64) (Quota, error)
}

// Gate checks a client's allowance before a search and charges it after.
type Gate struct {
	store  Store
	logger *slog.Logger
}

func NewGate(store Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, logger: logger}
}

// Check fails with ErrQuotaExhausted when nothing remains. Store errors are
// returned as is so the caller can reject the search without spending an
// upstream call.
func (g *Gate) Check(ctx context.Context, clientID string) (Quota, error) {
	q, err := g.store.Get(ctx, clientID)
	if err != nil {
		return Quota{}, fmt.Errorf("read quota: %w", err)
	}
	if q.Remaining <= 0 {
		return q, ErrQuotaExhausted
	}
	return q, nil
}

// Commit charges one search. It is called only once rates exist, so a lost
// race or a store failure is logged and reported through ok=false rather
// than failing the search.
func (g *Gate) Commit(ctx context.Context, clientID string) (Quota, bool) {
	q, err := g.store.Consume(ctx, clientID)
	if err == nil {
		return q, true
	}
	if errors.Is(err, ErrQuotaExhausted) {
		g.logger.WarnContext(ctx, "quota exhausted by a concurrent search; returning rates uncharged",
			"client_id", clientID)
		return Quota{ClientID: clientID}, false
	}
	g.logger.WarnContext(ctx, "quota commit failed; returning rates uncharged",
		"client_id", clientID,
		"error", err)
	return Quota{ClientID: clientID}, false
}

// TopUp adds amount to the client's remaining searches.
func (g *Gate) TopUp(ctx context.Context, clientID string, amount int64) (Quota, error) {
	if amount <= 0 {
		return Quota{}, ErrInvalidAmount
	}
	if strings.TrimSpace(clientID) == "" {
		return Quota{}, errors.New("client id required")
	}
	return g.store.TopUp(ctx, clientID, amount)
}

// Get returns the client's current counters.
func (g *Gate) Get(ctx context.Context, clientID string) (Quota, error) {
	return g.store.Get(ctx, clientID)
}
