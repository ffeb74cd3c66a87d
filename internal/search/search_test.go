package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightquote/internal/dispatch"
	"freightquote/internal/provider"
	"freightquote/internal/quota"
	"freightquote/internal/quote"
	"freightquote/internal/rate"
)

type stubProvider struct {
	calls   int32
	respond func(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Rates(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.respond(ctx, req)
}

type recordingHandoff struct {
	mu     sync.Mutex
	quotes []quote.Quote
}

func (h *recordingHandoff) Handoff(q quote.Quote) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quotes = append(h.quotes, q)
}

type harness struct {
	svc      *Service
	provider *stubProvider
	quotas   *quota.MemoryStore
	quotes   *quote.MemoryStore
	recorder *quote.Recorder
	handoff  *recordingHandoff
}

func newHarness(t *testing.T, respond func(context.Context, rate.ProviderRequest) ([]map[string]any, error)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		provider: &stubProvider{respond: respond},
		quotas:   quota.NewMemoryStore(),
		quotes:   quote.NewMemoryStore(),
		handoff:  &recordingHandoff{},
	}
	h.recorder = quote.NewRecorder(h.quotes, time.Second, logger)
	h.svc = New(Deps{
		Builder:    rate.NewRequestBuilder(rate.PlaceholderLocator{}),
		Gate:       quota.NewGate(h.quotas, logger),
		Dispatcher: dispatch.New(h.provider, dispatch.Options{Logger: logger}),
		Recorder:   h.recorder,
		Handoff:    h.handoff,
		Logger:     logger,
	})
	return h
}

func threeRates(_ context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
	if req.Mode != rate.ModeLTL {
		return nil, nil
	}
	return []map[string]any{
		{"id": "a", "carrier": "ODFL", "total": 52.50},
		{"id": "b", "carrier": "Estes", "total": 38.75},
		{"id": "c", "carrier": "FedEx", "total": 45.99},
	}, nil
}

func input(modes ...string) Input {
	return Input{
		ClientID: "acme",
		UserID:   "user-1",
		Shipment: rate.ShipmentDescription{
			Origin:      rate.Location{Country: "US", PostalCode: "60601"},
			Destination: rate.Location{Country: "US", PostalCode: "30301"},
			ShipDate:    "2026-10-20",
			Modes:       modes,
			Lines:       []rate.ShipmentLine{{Quantity: 1, Weight: 500}},
		},
	}
}

func TestSearchReturnsRankedRatesAndChargesQuota(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, threeRates)
	_, _ = h.quotas.TopUp(ctx, "acme", 5)

	res, err := h.svc.Search(ctx, input())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []rate.Mode{rate.ModeLTL, rate.ModeGuaranteed, rate.ModeVolume}, res.ModesTried)
	require.Len(t, res.Rates, 3)
	assert.Equal(t, []float64{38.75, 45.99, 52.50}, []float64{res.Rates[0].TotalCost, res.Rates[1].TotalCost, res.Rates[2].TotalCost})
	assert.True(t, res.QuotaCharged)
	assert.Equal(t, int64(4), res.Quota.Remaining)
	assert.Equal(t, int64(1), res.Quota.Used)
	assert.Equal(t, int32(3), atomic.LoadInt32(&h.provider.calls))

	h.recorder.Wait()
	r := quote.NewResolver(h.quotes, nil, nil)
	b, err := r.Book(ctx, quote.BookRequest{ClientID: "acme", QuoteID: res.QuoteID, RateRef: res.Rates[0].RateRef})
	require.NoError(t, err)
	assert.Equal(t, "Estes", b.Rate.CarrierName)

	h.handoff.mu.Lock()
	defer h.handoff.mu.Unlock()
	require.Len(t, h.handoff.quotes, 1)
	assert.Equal(t, res.QuoteID, h.handoff.quotes[0].Request.ID.String())
}

func TestSearchValidationFailsBeforeProvider(t *testing.T) {
	h := newHarness(t, threeRates)
	_, _ = h.quotas.TopUp(context.Background(), "acme", 5)
	in := input()
	in.Shipment.Lines = nil

	_, err := h.svc.Search(context.Background(), in)
	var verr *rate.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.provider.calls))
}

func TestSearchQuotaExhaustedFailsBeforeProvider(t *testing.T) {
	h := newHarness(t, threeRates)

	_, err := h.svc.Search(context.Background(), input())
	assert.ErrorIs(t, err, quota.ErrQuotaExhausted)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.provider.calls))
}

func TestSearchNoRatesDoesNotChargeQuota(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, rate.ProviderRequest) ([]map[string]any, error) {
		return []map[string]any{{"error": "no service for lane"}}, nil
	})
	_, _ = h.quotas.TopUp(ctx, "acme", 2)

	res, err := h.svc.Search(ctx, input("volume"))
	require.NoError(t, err)
	assert.Equal(t, StatusNoRates, res.Status)
	assert.Empty(t, res.Rates)
	assert.Empty(t, res.QuoteID)
	assert.Contains(t, res.Message, "Volume LTL")
	assert.Equal(t, []rate.Mode{rate.ModeVolume}, res.ModesTried)
	assert.False(t, res.QuotaCharged)

	q, _ := h.quotas.Get(ctx, "acme")
	assert.Equal(t, int64(2), q.Remaining)
	assert.Empty(t, h.handoff.quotes)
}

func TestSearchProviderUnavailable(t *testing.T) {
	h := newHarness(t, func(context.Context, rate.ProviderRequest) ([]map[string]any, error) {
		return nil, provider.ErrUnreachable
	})
	_, _ = h.quotas.TopUp(context.Background(), "acme", 1)

	_, err := h.svc.Search(context.Background(), input())
	assert.True(t, errors.Is(err, dispatch.ErrProviderUnavailable))
	q, _ := h.quotas.Get(context.Background(), "acme")
	assert.Equal(t, int64(1), q.Remaining)
}

func TestSearchPartialModeFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
		if req.Mode == rate.ModeGuaranteed {
			return nil, &provider.StatusError{Code: 503}
		}
		return []map[string]any{{"carrier": string(req.Mode), "total": 10.0}}, nil
	})
	_, _ = h.quotas.TopUp(context.Background(), "acme", 1)

	res, err := h.svc.Search(context.Background(), input("ALL"))
	require.NoError(t, err)
	assert.Len(t, res.Rates, 2)
	assert.Equal(t, []rate.Mode{rate.ModeGuaranteed}, res.FailedModes)
}

func TestSearchRaceForLastToken(t *testing.T) {
	ctx := context.Background()
	// Both searches pass the pre-check before either commits.
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
		arrived <- struct{}{}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return threeRates(ctx, req)
	})
	_, _ = h.quotas.TopUp(ctx, "acme", 1)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Search(ctx, input("ltl"))
		}(i)
	}
	<-arrived
	<-arrived
	close(release)
	wg.Wait()

	charged := 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Rates, 3)
		if results[i].QuotaCharged {
			charged++
		}
		assert.Equal(t, int64(0), results[i].Quota.Remaining)
		assert.Equal(t, int64(1), results[i].Quota.Used)
	}
	assert.Equal(t, 1, charged)

	q, _ := h.quotas.Get(ctx, "acme")
	assert.Equal(t, int64(0), q.Remaining)
	_, err := h.svc.Search(ctx, input("ltl"))
	assert.ErrorIs(t, err, quota.ErrQuotaExhausted)
}
