package rate

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"freightquote/internal/probe"
)

// Candidate field names, most specific first. Provider payloads are not
// consistent about naming, even within one response.
var (
	idKeys = []string{"id", "rateId", "rate_id", "quoteId", "quote_id", "rateQuoteId"}

	carrierKeys = []string{
		"carrierName", "carrier_name", "carrier.name",
		"carrier", "carrierCode", "carrier_code", "scac",
		"company", "companyName", "company_name",
		"provider", "providerName", "provider_name",
	}

	serviceKeys = []string{
		"serviceName", "service_name", "service.name",
		"service", "serviceLevel", "service_level", "serviceType", "service_type",
		"serviceDescription",
	}

	costKeys = []string{
		"totalCost", "total_cost", "total",
		"totalCharge", "total_charge", "totalPrice", "total_price",
		"charges.total", "rate.total",
		"amount", "price", "rate", "cost",
	}

	transitKeys = []string{
		"transitDays", "transit_days", "transitTime", "transit_time",
		"estimatedDays", "estimated_days", "deliveryDays", "days",
	}

	currencyKeys = []string{"currency", "currencyCode", "currency_code", "charges.currency"}

	// errorMarkerKeys are the only keys an empty-rate placeholder carries.
	errorMarkerKeys = map[string]bool{
		"error": true, "errors": true, "errorMessage": true, "error_message": true, "message": true,
	}
)

// NormalizeRates maps raw provider entries to canonical rates, drops
// empty-rate markers and sorts ascending by total cost. Ties keep upstream
// order.
func NormalizeRates(raw []RawRate) []NormalizedRate {
	out := make([]NormalizedRate, 0, len(raw))
	for _, r := range raw {
		if isEmptyRate(r.Fields) {
			continue
		}
		out = append(out, normalizeOne(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalCost < out[j].TotalCost })
	return out
}

func normalizeOne(r RawRate) NormalizedRate {
	f := r.Fields
	n := NormalizedRate{
		ID:          probe.String(f, idKeys...),
		CarrierName: probe.String(f, carrierKeys...),
		ServiceName: probe.String(f, serviceKeys...),
		Currency:    strings.ToUpper(probe.String(f, currencyKeys...)),
		Mode:        r.Mode,
	}
	if n.ID == "" {
		if v, ok := probe.Number(f, idKeys...); ok {
			n.ID = strconv.FormatFloat(v, 'f', -1, 64)
		} else {
			n.ID = uuid.NewString()
		}
	}
	if n.CarrierName == "" {
		n.CarrierName = UnknownCarrier
	}
	if n.ServiceName == "" {
		n.ServiceName = DefaultService
	}
	if n.Currency == "" {
		n.Currency = DefaultCurrency
	}
	if cost, ok := probe.Number(f, costKeys...); ok && cost >= 0 {
		n.TotalCost = cost
	}
	for _, k := range transitKeys {
		if d, ok := probe.Days(probe.Path(f, k)); ok {
			n.TransitDays = &d
			break
		}
	}
	if n.Mode == "" {
		n.Mode = Mode(strings.ToUpper(probe.String(f, "mode")))
	}
	n.Raw = rawPayload(f)
	return n
}

// rawPayload returns the provider payload behind f. Entries that were already
// normalized carry it under "raw", either as bytes or as decoded JSON.
func rawPayload(f map[string]any) json.RawMessage {
	switch prev := f["raw"].(type) {
	case json.RawMessage:
		return prev
	case map[string]any, []any:
		if b, err := json.Marshal(prev); err == nil {
			return b
		}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return b
}

// isEmptyRate reports whether an entry carries nothing but an error marker.
func isEmptyRate(f map[string]any) bool {
	if len(f) == 0 {
		return true
	}
	for k := range f {
		if !errorMarkerKeys[k] {
			return false
		}
	}
	return true
}

// NoRatesMessage is the guidance shown when no rate survived for modes.
func NoRatesMessage(modes []Mode) string {
	labels := make([]string, 0, len(modes))
	for _, m := range modes {
		labels = append(labels, m.Label())
	}
	scope := "the requested freight modes"
	if len(labels) > 0 {
		scope = strings.Join(labels, ", ")
	}
	return "No rates were returned for " + scope +
		". Try adjusting the ship date, freight class, or shipment dimensions, or request a different freight mode."
}
