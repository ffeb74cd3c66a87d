// Package search runs a rate search end to end: validation, quota, provider
// fan-out, normalization, accounting and the detached side effects.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"freightquote/internal/dispatch"
	"freightquote/internal/quota"
	"freightquote/internal/quote"
	"freightquote/internal/rate"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusNoRates Status = "no_rates"
)

// Handoff receives quotes with rates for asynchronous CRM sync.
type Handoff interface {
	Handoff(q quote.Quote)
}

// Input is one authenticated rate search.
type Input struct {
	ClientID string
	UserID   string
	Shipment rate.ShipmentDescription
	Raw      json.RawMessage
}

// RankedRate is a normalized rate with the reference bookings use.
type RankedRate struct {
	RateRef string `json:"rate_ref"`
	rate.NormalizedRate
}

type Result struct {
	Status       Status       `json:"status"`
	QuoteID      string       `json:"quote_id,omitempty"`
	Rates        []RankedRate `json:"rates"`
	Quota        quota.Quota  `json:"quota"`
	QuotaCharged bool         `json:"quota_charged"`
	Message      string       `json:"message,omitempty"`
	ModesTried   []rate.Mode  `json:"modes_tried"`
	FailedModes  []rate.Mode  `json:"failed_modes,omitempty"`
}

type Service struct {
	builder    *rate.RequestBuilder
	gate       *quota.Gate
	dispatcher *dispatch.Dispatcher
	recorder   *quote.Recorder
	handoff    Handoff
	logger     *slog.Logger
}

type Deps struct {
	Builder    *rate.RequestBuilder
	Gate       *quota.Gate
	Dispatcher *dispatch.Dispatcher
	Recorder   *quote.Recorder
	// Handoff is optional.
	Handoff Handoff
	Logger  *slog.Logger
}

func New(d Deps) *Service {
	if d.Builder == nil {
		d.Builder = rate.NewRequestBuilder(nil)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		builder:    d.Builder,
		gate:       d.Gate,
		dispatcher: d.Dispatcher,
		recorder:   d.Recorder,
		handoff:    d.Handoff,
		logger:     d.Logger,
	}
}

// Search validates the shipment, checks quota, fetches and ranks rates, and
// charges one token when at least one rate survives. Validation and quota
// failures return before the provider is called. Persistence and CRM sync
// run detached and never change the result.
func (s *Service) Search(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	req, err := rate.NewQuoteRequest(in.ClientID, in.UserID, in.Shipment, in.Raw)
	if err != nil {
		return Result{}, err
	}
	snapshot, err := s.gate.Check(ctx, in.ClientID)
	if err != nil {
		return Result{}, err
	}

	dispatched, err := s.dispatcher.Dispatch(ctx, s.builder.Build(ctx, req))
	if err != nil {
		return Result{}, err
	}
	rates := rate.NormalizeRates(dispatched.Rates)

	res := Result{
		Rates:      []RankedRate{},
		ModesTried: req.Modes,
	}
	for _, f := range dispatched.Failures {
		res.FailedModes = append(res.FailedModes, f.Mode)
	}
	if len(rates) == 0 {
		res.Status = StatusNoRates
		res.Message = rate.NoRatesMessage(req.Modes)
		res.Quota = snapshot
		s.logger.InfoContext(ctx, "rate search returned no rates",
			"client_id", in.ClientID,
			"modes", req.Modes,
			"failed_modes", res.FailedModes,
			"duration", time.Since(started))
		return res, nil
	}

	res.Status = StatusOK
	if q, ok := s.gate.Commit(ctx, in.ClientID); ok {
		res.Quota, res.QuotaCharged = q, true
	} else if q, err := s.gate.Get(ctx, in.ClientID); err == nil {
		res.Quota = q
	} else {
		res.Quota = snapshot
	}

	minted := quote.Mint(req, rates)
	res.QuoteID = req.ID.String()
	for _, m := range minted.Rates {
		res.Rates = append(res.Rates, RankedRate{RateRef: m.InternalID.String(), NormalizedRate: m.Rate})
	}
	if s.recorder != nil {
		s.recorder.Record(minted)
	}
	if s.handoff != nil {
		s.handoff.Handoff(minted)
	}
	s.logger.InfoContext(ctx, "rate search completed",
		"client_id", in.ClientID,
		"quote_id", res.QuoteID,
		"modes", req.Modes,
		"failed_modes", res.FailedModes,
		"rates", len(res.Rates),
		"provider_calls", dispatched.Calls,
		"duration", time.Since(started))
	return res, nil
}
