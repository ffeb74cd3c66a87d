package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"freightquote/internal/probe"
	"freightquote/internal/rate"
)

// HTTP calls a JSON rate API: POST {baseURL}/rates with one ProviderRequest
// and POST {baseURL}/bookings to confirm a rate.
type HTTP struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTP(baseURL, apiKey string, client *http.Client) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (h *HTTP) Name() string { return "http" }

// rateListKeys locate the rate array inside an object response.
var rateListKeys = []string{"rates", "data.rates", "data", "results", "quotes", "rateQuotes", "result.rates"}

func (h *HTTP) Rates(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
	var body any
	if err := h.post(ctx, "/rates", req, &body); err != nil {
		return nil, fmt.Errorf("%s rates: %w", req.Mode, err)
	}
	return rateEntries(body), nil
}

// Confirm books a rate upstream and returns the provider's confirmation number.
func (h *HTTP) Confirm(ctx context.Context, r rate.NormalizedRate) (string, error) {
	payload := map[string]any{
		"rateId": r.ID,
		"rate":   r.Raw,
	}
	var body map[string]any
	if err := h.post(ctx, "/bookings", payload, &body); err != nil {
		return "", fmt.Errorf("confirm rate %s: %w", r.ID, err)
	}
	conf := probe.String(body, "confirmationNumber", "confirmation_number", "bookingNumber", "booking_number", "proNumber", "id")
	if conf == "" {
		return "", errors.New("provider response carried no confirmation number")
	}
	return conf, nil
}

func (h *HTTP) post(ctx context.Context, path string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && isUnreachable(err) {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// rateEntries accepts either a bare array or an object wrapping one.
func rateEntries(body any) []map[string]any {
	var list []any
	switch t := body.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, k := range rateListKeys {
			if l, ok := probe.Path(t, k).([]any); ok {
				list = l
				break
			}
		}
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// isUnreachable reports DNS and connection-establishment failures.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
