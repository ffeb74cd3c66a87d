// Package provider talks to the external carrier-rate provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"freightquote/internal/rate"
)

// Provider returns the raw rate entries for a single-mode request. Entry
// shapes are provider-controlled and must go through rate.NormalizeRates.
type Provider interface {
	Name() string
	Rates(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error)
}

// Confirmer is implemented by providers that issue booking confirmation
// numbers.
type Confirmer interface {
	Confirm(ctx context.Context, r rate.NormalizedRate) (string, error)
}

// ErrUnreachable wraps transport failures that happen before the provider
// sees the request (DNS, connect).
var ErrUnreachable = errors.New("rate provider unreachable")

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rate provider returned status %d", e.Code)
}

// Options configures NewByName.
type Options struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// NewByName returns a Provider by name. Unknown names fall back to Dummy.
func NewByName(name string, opts Options) Provider {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dummy", "":
		return NewDummy()
	case "http", "freight":
		client := opts.HTTPClient
		if client == nil {
			// Deadlines come from the caller's context; the dispatcher sets
			// one only on constrained runtimes.
			client = &http.Client{}
		}
		return NewHTTP(opts.URL, opts.APIKey, client)
	default:
		return NewDummy()
	}
}
