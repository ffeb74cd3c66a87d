// Package dispatch fans a quote out to the rate provider, one call per mode.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"freightquote/internal/provider"
	"freightquote/internal/rate"
)

const (
	DefaultBatchSize = 3
	// DefaultCallTimeout fits inside a 30s serverless invocation budget.
	DefaultCallTimeout = 28 * time.Second
)

// ErrProviderUnavailable is returned when the provider could not be reached
// at all. Any other per-mode failure is absorbed.
var ErrProviderUnavailable = errors.New("rate provider unavailable")

// ModeFailure records a mode whose call produced no rates.
type ModeFailure struct {
	Mode rate.Mode
	Err  error
}

func (f ModeFailure) Error() string {
	return fmt.Sprintf("mode %s: %v", f.Mode, f.Err)
}

func (f ModeFailure) Unwrap() error { return f.Err }

// Result is the merged output of every mode call.
type Result struct {
	Rates    []rate.RawRate
	Failures []ModeFailure
	Calls    int
	Batches  int
}

type Options struct {
	BatchSize int
	// CallTimeout bounds each provider call. Zero disables the deadline.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

type Dispatcher struct {
	provider  provider.Provider
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

func New(p provider.Provider, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		provider:  p,
		batchSize: opts.BatchSize,
		timeout:   opts.CallTimeout,
		logger:    opts.Logger,
	}
}

// Batches splits reqs into consecutive groups of at most size.
func Batches(reqs []rate.ProviderRequest, size int) [][]rate.ProviderRequest {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]rate.ProviderRequest
	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))
		out = append(out, reqs[start:end])
	}
	return out
}

// Dispatch issues one provider call per request. Batches run one after
// another; calls inside a batch run concurrently and are joined before the
// next batch starts. A failed or timed-out call contributes no rates and
// never cancels its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []rate.ProviderRequest) (Result, error) {
	var res Result
	if len(reqs) == 1 {
		res.Batches = 1
		d.collect(&res, reqs, d.runBatch(ctx, reqs))
		return res, d.fatal(ctx, res)
	}
	for _, batch := range Batches(reqs, d.batchSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Batches++
		d.collect(&res, batch, d.runBatch(ctx, batch))
		if err := d.fatal(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

type callResult struct {
	entries []map[string]any
	err     error
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []rate.ProviderRequest) []callResult {
	results := make([]callResult, len(batch))
	var g errgroup.Group
	for i, req := range batch {
		i, req := i, req
		g.Go(func() error {
			entries, err := d.call(ctx, req)
			results[i] = callResult{entries: entries, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) call(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	started := time.Now()
	entries, err := d.provider.Rates(callCtx, req)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", d.timeout, err)
	}
	d.logger.DebugContext(ctx, "rate provider call finished",
		"provider", d.provider.Name(),
		"mode", req.Mode,
		"entries", len(entries),
		"duration", time.Since(started),
		"error", err)
	return entries, err
}

func (d *Dispatcher) collect(res *Result, batch []rate.ProviderRequest, results []callResult) {
	for i, r := range results {
		res.Calls++
		mode := batch[i].Mode
		if r.err != nil {
			res.Failures = append(res.Failures, ModeFailure{Mode: mode, Err: r.err})
			d.logger.Warn("rate provider call failed; mode yields no rates",
				"provider", d.provider.Name(),
				"mode", mode,
				"error", r.err)
			continue
		}
		for _, e := range r.entries {
			res.Rates = append(res.Rates, rate.RawRate{Mode: mode, Fields: e})
		}
	}
}

// fatal reports ErrProviderUnavailable when every call so far failed to
// reach the provider, and the caller's own cancellation otherwise.
func (d *Dispatcher) fatal(ctx context.Context, res Result) error {
	if err := ctx.Err(); err != nil && len(res.Rates) == 0 {
		return err
	}
	if res.Calls == 0 || len(res.Failures) != res.Calls {
		return nil
	}
	for _, f := range res.Failures {
		if !errors.Is(f.Err, provider.ErrUnreachable) {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, res.Failures[0].Err)
}
