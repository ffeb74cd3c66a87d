package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightquote/internal/provider"
	"freightquote/internal/rate"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []rate.Mode
	inFlight int32
	peak     int32
	delay    time.Duration
	respond  func(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Rates(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, req.Mode)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.respond != nil {
		return f.respond(ctx, req)
	}
	return []map[string]any{{"carrier": "Carrier " + string(req.Mode), "total": 10.0}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requests(modes ...rate.Mode) []rate.ProviderRequest {
	out := make([]rate.ProviderRequest, len(modes))
	for i, m := range modes {
		out[i] = rate.ProviderRequest{Mode: m, ShipDate: "2026-10-20"}
	}
	return out
}

var allModes = []rate.Mode{rate.ModeLTL, rate.ModeGuaranteed, rate.ModeVolume, rate.ModeSmallPackage, rate.ModeAir}

func TestBatches(t *testing.T) {
	batches := Batches(requests(allModes...), 3)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 2)
	assert.Equal(t, rate.ModeSmallPackage, batches[1][0].Mode)

	assert.Len(t, Batches(requests(rate.ModeLTL), 3), 1)
	assert.Empty(t, Batches(nil, 3))
	assert.Len(t, Batches(requests(allModes...), 0), 2, "non-positive size uses the default")
}

func TestDispatchSingleModeMakesOneCall(t *testing.T) {
	p := &fakeProvider{}
	d := New(p, Options{Logger: quietLogger()})

	res, err := d.Dispatch(context.Background(), requests(rate.ModeLTL))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calls)
	assert.Equal(t, 1, res.Batches)
	require.Len(t, res.Rates, 1)
	assert.Equal(t, rate.ModeLTL, res.Rates[0].Mode)
	assert.Equal(t, []rate.Mode{rate.ModeLTL}, p.calls)
}

func TestDispatchFiveModesRunsTwoBatchesWithBoundedConcurrency(t *testing.T) {
	p := &fakeProvider{delay: 20 * time.Millisecond}
	d := New(p, Options{BatchSize: 3, Logger: quietLogger()})

	res, err := d.Dispatch(context.Background(), requests(allModes...))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 5, res.Calls)
	assert.Len(t, res.Rates, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&p.peak), int32(3))

	// Rates are merged in request order regardless of completion order.
	var got []rate.Mode
	for _, r := range res.Rates {
		got = append(got, r.Mode)
	}
	assert.Equal(t, allModes, got)
}

func TestDispatchTimedOutModeIsAbsorbed(t *testing.T) {
	p := &fakeProvider{
		respond: func(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
			if req.Mode == rate.ModeGuaranteed {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []map[string]any{{"carrier": "ok", "total": 1.0}}, nil
		},
	}
	d := New(p, Options{CallTimeout: 30 * time.Millisecond, Logger: quietLogger()})

	res, err := d.Dispatch(context.Background(), requests(rate.ModeLTL, rate.ModeGuaranteed, rate.ModeVolume))
	require.NoError(t, err)
	assert.Len(t, res.Rates, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, rate.ModeGuaranteed, res.Failures[0].Mode)
	assert.ErrorIs(t, res.Failures[0], context.DeadlineExceeded)
	for _, r := range res.Rates {
		assert.NotEqual(t, rate.ModeGuaranteed, r.Mode)
	}
}

func TestDispatchModeFailuresWithoutRatesAreNotFatal(t *testing.T) {
	p := &fakeProvider{
		respond: func(context.Context, rate.ProviderRequest) ([]map[string]any, error) {
			return nil, &provider.StatusError{Code: 500}
		},
	}
	d := New(p, Options{Logger: quietLogger()})

	res, err := d.Dispatch(context.Background(), requests(rate.ModeLTL, rate.ModeVolume))
	require.NoError(t, err)
	assert.Empty(t, res.Rates)
	assert.Len(t, res.Failures, 2)
}

func TestDispatchUnreachableProviderIsFatal(t *testing.T) {
	p := &fakeProvider{
		respond: func(context.Context, rate.ProviderRequest) ([]map[string]any, error) {
			return nil, fmt.Errorf("dial: %w", provider.ErrUnreachable)
		},
	}
	d := New(p, Options{Logger: quietLogger()})

	res, err := d.Dispatch(context.Background(), requests(allModes...))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.Equal(t, 1, res.Batches, "later batches are skipped once the provider is known to be down")
	assert.Equal(t, 3, res.Calls)
}

func TestDispatchPartialUnreachableIsNotFatal(t *testing.T) {
	p := &fakeProvider{
		respond: func(_ context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
			if req.Mode == rate.ModeLTL {
				return nil, provider.ErrUnreachable
			}
			return []map[string]any{{"carrier": "ok", "total": 1.0}}, nil
		},
	}
	d := New(p, Options{Logger: quietLogger()})

	res, err := d.Dispatch(context.Background(), requests(rate.ModeLTL, rate.ModeVolume))
	require.NoError(t, err)
	assert.Len(t, res.Rates, 1)
}

func TestDispatchStopsWhenCallerCancels(t *testing.T) {
	p := &fakeProvider{}
	d := New(p, Options{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, requests(allModes...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.calls)
}
