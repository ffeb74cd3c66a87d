package provider

import (
	"context"
	"fmt"
	"math"
	"strings"

	"freightquote/internal/rate"
)

// Dummy produces deterministic rates from a weight heuristic. Each mode
// answers in a different payload shape, like real provider responses do.
type Dummy struct{}

func NewDummy() *Dummy { return &Dummy{} }

func (d *Dummy) Name() string { return "dummy" }

type dummyCarrier struct {
	name   string
	factor float64
	days   int
}

var dummyCarriers = map[rate.Mode][]dummyCarrier{
	rate.ModeLTL:          {{"Estes Express", 1.00, 4}, {"Old Dominion", 1.12, 3}, {"Saia", 0.94, 5}},
	rate.ModeGuaranteed:   {{"Estes Express", 1.35, 3}, {"XPO Logistics", 1.41, 2}},
	rate.ModeVolume:       {{"Old Dominion", 0.82, 5}, {"R+L Carriers", 0.88, 4}},
	rate.ModeSmallPackage: {{"UPS", 1.00, 3}, {"FedEx", 1.04, 2}},
	rate.ModeAir:          {{"FedEx Air Freight", 2.60, 1}},
}

func (d *Dummy) Rates(ctx context.Context, req rate.ProviderRequest) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	carriers, ok := dummyCarriers[req.Mode]
	if !ok {
		return nil, nil
	}
	base := d.base(req)
	out := make([]map[string]any, 0, len(carriers))
	for i, c := range carriers {
		amount := math.Round(base*c.factor*100) / 100
		id := fmt.Sprintf("dmy-%s-%d", strings.ToLower(string(req.Mode)), i+1)
		out = append(out, shape(req.Mode, id, c, amount))
	}
	return out, nil
}

// base is the mode-independent price: a flat charge plus weight, with a
// surcharge across borders and for hazmat.
func (d *Dummy) base(req rate.ProviderRequest) float64 {
	var weight float64
	hazmat := false
	for _, it := range req.Items {
		w := it.Weight
		if strings.EqualFold(it.WeightUnit, "KG") {
			w *= rate.PoundsPerKG
		}
		weight += w * float64(it.Quantity)
		hazmat = hazmat || it.Hazmat != nil
	}
	amount := 85.0 + weight*0.12
	if !strings.EqualFold(req.Origin.Country, req.Destination.Country) {
		amount += 60.0
	}
	if hazmat {
		amount += 35.0
	}
	return amount
}

func shape(mode rate.Mode, id string, c dummyCarrier, amount float64) map[string]any {
	switch mode {
	case rate.ModeGuaranteed:
		return map[string]any{
			"rate_id":       id,
			"carrier_name":  c.name,
			"service_level": "Guaranteed",
			"total_charge":  fmt.Sprintf("%.2f", amount),
			"transit_time":  fmt.Sprintf("%d days", c.days),
		}
	case rate.ModeVolume:
		return map[string]any{
			"quoteId": id,
			"company": c.name,
			"price":   amount,
			"days":    c.days,
		}
	case rate.ModeSmallPackage:
		return map[string]any{
			"id":       id,
			"provider": c.name,
			"service":  "Ground",
			"amount":   amount,
		}
	case rate.ModeAir:
		return map[string]any{
			"id":          id,
			"carrier":     map[string]any{"name": c.name},
			"charges":     map[string]any{"total": amount, "currency": "USD"},
			"transitDays": c.days,
		}
	default:
		return map[string]any{
			"id":          id,
			"carrierName": c.name,
			"serviceName": "Standard LTL",
			"totalCost":   amount,
			"transitDays": c.days,
		}
	}
}
