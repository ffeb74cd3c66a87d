package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightquote/internal/rate"
)

func sampleRequest(mode rate.Mode) rate.ProviderRequest {
	return rate.ProviderRequest{
		Origin:      rate.ProviderLocation{Country: "US", State: "GA", City: "Atlanta", PostalCode: "30301"},
		Destination: rate.ProviderLocation{Country: "US", State: "TX", City: "Dallas", PostalCode: "75201"},
		ShipDate:    "2026-11-02",
		Mode:        mode,
		Items:       []rate.ProviderItem{{Quantity: 2, PackagingCode: rate.PalletCode, Weight: 500, WeightUnit: "LB", FreightClass: 70}},
	}
}

func TestHTTPRates_WrappedArray(t *testing.T) {
	var got rate.ProviderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rates", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"rates":[{"carrier":"Saia","total":"120.40"},"junk",{"carrier":"XPO","total":99}]}}`))
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL+"/", "secret", srv.Client())
	entries, err := p.Rates(context.Background(), sampleRequest(rate.ModeLTL))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, rate.ModeLTL, got.Mode)
	assert.Equal(t, "PLT", got.Items[0].PackagingCode)

	normalized := rate.NormalizeRates([]rate.RawRate{{Mode: rate.ModeLTL, Fields: entries[0]}, {Mode: rate.ModeLTL, Fields: entries[1]}})
	assert.Equal(t, "XPO", normalized[0].CarrierName)
	assert.Equal(t, 120.40, normalized[1].TotalCost)
}

func TestHTTPRates_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"carrierName":"Estes","totalCost":10}]`))
	}))
	defer srv.Close()

	entries, err := NewHTTP(srv.URL, "", srv.Client()).Rates(context.Background(), sampleRequest(rate.ModeVolume))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHTTPRates_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "", srv.Client()).Rates(context.Background(), sampleRequest(rate.ModeLTL))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestHTTPRates_UnreachableIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url, "", &http.Client{}).Rates(context.Background(), sampleRequest(rate.ModeLTL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable), "got %v", err)
}

func TestHTTPConfirm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookings", r.URL.Path)
		w.Write([]byte(`{"booking_number":"PRO-778812"}`))
	}))
	defer srv.Close()

	conf, err := NewHTTP(srv.URL, "", srv.Client()).Confirm(context.Background(), rate.NormalizedRate{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "PRO-778812", conf)
}

func TestDummy_EveryModeNormalizes(t *testing.T) {
	d := NewDummy()
	for _, m := range []rate.Mode{rate.ModeLTL, rate.ModeGuaranteed, rate.ModeVolume, rate.ModeSmallPackage, rate.ModeAir} {
		entries, err := d.Rates(context.Background(), sampleRequest(m))
		require.NoError(t, err)
		require.NotEmpty(t, entries, "mode %s", m)

		raws := make([]rate.RawRate, 0, len(entries))
		for _, e := range entries {
			raws = append(raws, rate.RawRate{Mode: m, Fields: e})
		}
		for _, r := range rate.NormalizeRates(raws) {
			assert.NotEqual(t, rate.UnknownCarrier, r.CarrierName, "mode %s", m)
			assert.Greater(t, r.TotalCost, 0.0, "mode %s", m)
			assert.NotNil(t, r.TransitDays, "mode %s", m)
			assert.Contains(t, r.ID, "dmy-", "mode %s", m)
		}
	}
}

func TestDummy_InternationalSurcharge(t *testing.T) {
	d := NewDummy()
	domestic := d.base(sampleRequest(rate.ModeLTL))
	intl := sampleRequest(rate.ModeLTL)
	intl.Destination.Country = "CA"
	assert.InDelta(t, domestic+60, d.base(intl), 0.001)
	// 85 + 1000 lb * 0.12
	assert.InDelta(t, 205.0, domestic, 0.001)
}

func TestNewByName(t *testing.T) {
	if _, ok := NewByName("", Options{}).(*Dummy); !ok {
		t.Fatalf("expected *Dummy for empty name")
	}
	h, ok := NewByName("HTTP", Options{URL: "http://example.invalid"}).(*HTTP)
	if !ok {
		t.Fatalf("expected *HTTP for 'HTTP'")
	}
	if h.client.Timeout != 0 {
		t.Fatalf("default client timeout = %s, want none", h.client.Timeout)
	}
	if _, ok := NewByName("karrio", Options{}).(*Dummy); !ok {
		t.Fatalf("expected unknown names to fall back to *Dummy")
	}
	var _ Confirmer = (*HTTP)(nil)
}
