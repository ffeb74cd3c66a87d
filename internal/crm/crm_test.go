package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightquote/internal/quote"
	"freightquote/internal/rate"
)

// fakeWriter records the messages written.
type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleQuote(t *testing.T) quote.Quote {
	t.Helper()
	req, err := rate.NewQuoteRequest("acme", "user-7", rate.ShipmentDescription{
		Origin:      rate.Location{Country: "US", City: "Chicago", State: "IL", PostalCode: "60601"},
		Destination: rate.Location{Country: "US", PostalCode: "30301"},
		ShipDate:    "2026-10-20",
		Modes:       []string{"ltl", "volume"},
		Lines: []rate.ShipmentLine{
			{Quantity: 2, Weight: 400},
			{Quantity: 1, Weight: 100, WeightUnit: "KG", Hazmat: true},
		},
	}, json.RawMessage(`{"note":"dock 4"}`))
	require.NoError(t, err)
	days := 3
	return quote.Mint(req, []rate.NormalizedRate{
		{ID: "a", CarrierName: "Estes", TotalCost: 38.75, Currency: "USD", TransitDays: &days},
		{ID: "b", CarrierName: "FedEx", TotalCost: 45.99, Currency: "USD"},
		{ID: "c", CarrierName: "Saia", TotalCost: 52.50, Currency: "USD"},
		{ID: "d", CarrierName: "ODFL", TotalCost: 60.00, Currency: "USD"},
	})
}

func TestBuildSummary(t *testing.T) {
	q := sampleQuote(t)
	s := BuildSummary(q, 2)

	assert.Equal(t, q.Request.ID.String(), s.QuoteID)
	assert.Equal(t, "2026-10-20", s.ShipDate)
	assert.Equal(t, []rate.Mode{rate.ModeLTL, rate.ModeVolume}, s.Modes)
	assert.Equal(t, 2, s.Lines)
	assert.InDelta(t, 800+220.462, s.TotalWeight, 0.001)
	assert.True(t, s.Hazmat)
	assert.Equal(t, 4, s.RateCount)
	require.Len(t, s.TopRates, 2)
	assert.Equal(t, "Estes", s.TopRates[0].CarrierName)
	assert.Equal(t, q.Rates[0].InternalID.String(), s.TopRates[0].RateRef)

	assert.Len(t, BuildSummary(q, 0).TopRates, DefaultTopN)
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	fw := &fakeWriter{}
	p := NewPublisherWithWriter(fw, 3, quietLogger())
	q := sampleQuote(t)

	require.NoError(t, p.Publish(context.Background(), q))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, q.Request.ID.String(), string(fw.msgs[0].Key))

	var got Summary
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &got))
	assert.Equal(t, "acme", got.ClientID)
	assert.Len(t, got.TopRates, 3)
	assert.JSONEq(t, `{"note":"dock 4"}`, string(got.Raw))
}

func TestHandoffFailureIsSwallowed(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisherWithWriter(fw, 3, quietLogger())

	p.Handoff(sampleQuote(t))
	require.NoError(t, p.Close())
	assert.Empty(t, fw.msgs)
	assert.True(t, fw.closed)
}

func TestCloseDrainsPendingHandoffs(t *testing.T) {
	fw := &fakeWriter{}
	p := NewPublisherWithWriter(fw, 3, quietLogger())
	for i := 0; i < 5; i++ {
		p.Handoff(sampleQuote(t))
	}
	require.NoError(t, p.Close())
	assert.Len(t, fw.msgs, 5)
}
