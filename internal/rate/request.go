package rate

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Locator fills in the city and state of a location before it is sent to
// the provider, which rejects blank values.
type Locator interface {
	Resolve(ctx context.Context, loc Location) Location
}

// PlaceholderLocator substitutes fixed tokens for blank city/state. The
// provider may hold no data for these tokens, so results can be thinner than
// with a real lookup.
type PlaceholderLocator struct {
	City  string
	State string
}

func (p PlaceholderLocator) Resolve(_ context.Context, loc Location) Location {
	if strings.TrimSpace(loc.City) == "" {
		loc.City = orDefault(p.City, "UNKNOWN")
	}
	if strings.TrimSpace(loc.State) == "" {
		loc.State = orDefault(p.State, "XX")
	}
	return loc
}

// Validate rejects shipment descriptions that cannot be quoted.
func Validate(d ShipmentDescription) error {
	if err := validateLocation("origin", d.Origin); err != nil {
		return err
	}
	if err := validateLocation("destination", d.Destination); err != nil {
		return err
	}
	if _, err := ParseShipDate(d.ShipDate); err != nil {
		return invalid("ship_date", "expected YYYY-MM-DD")
	}
	if len(d.Lines) == 0 {
		return invalid("lines", "at least one shipment line is required")
	}
	for i, l := range d.Lines {
		if err := validateLine(i, l); err != nil {
			return err
		}
	}
	return nil
}

func validateLocation(field string, loc Location) error {
	if strings.TrimSpace(loc.Country) == "" {
		return invalid(field+".country", "required")
	}
	if strings.TrimSpace(loc.PostalCode) == "" {
		return invalid(field+".postal_code", "required")
	}
	return nil
}

func validateLine(i int, l ShipmentLine) error {
	field := func(name string) string { return "lines[" + strconv.Itoa(i) + "]." + name }
	if l.Quantity < 1 {
		return invalid(field("quantity"), "must be at least 1")
	}
	switch l.Packaging {
	case "", PackagingPallet, PackagingCarton, PackagingDrum:
	default:
		return invalid(field("packaging"), "unsupported packaging %q", l.Packaging)
	}
	if l.Weight < 0 {
		return invalid(field("weight"), "must not be negative")
	}
	dims := 0
	for _, d := range []*float64{l.Length, l.Width, l.Height} {
		if d == nil {
			continue
		}
		if *d < 0 {
			return invalid(field("dimensions"), "must not be negative")
		}
		dims++
	}
	if dims != 0 && dims != 3 {
		return invalid(field("dimensions"), "length, width and height must be given together")
	}
	if l.Stackable && l.StackCount < 1 {
		return invalid(field("stack_count"), "must be at least 1 when stackable")
	}
	if l.FreightClass != nil && (*l.FreightClass < 0 || *l.FreightClass > MaxFreightClass) {
		return invalid(field("freight_class"), "must be between 0 and 500")
	}
	return nil
}

// ParseShipDate accepts YYYY-MM-DD or RFC 3339; blank means today (UTC).
func ParseShipDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	if t, err := time.Parse(shipDateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// NewQuoteRequest records a validated search for the given client and user.
func NewQuoteRequest(clientID, userID string, d ShipmentDescription, raw json.RawMessage) (QuoteRequest, error) {
	if err := Validate(d); err != nil {
		return QuoteRequest{}, err
	}
	shipDate, _ := ParseShipDate(d.ShipDate)
	lines := make([]ShipmentLine, len(d.Lines))
	copy(lines, d.Lines)
	return QuoteRequest{
		ID:          uuid.New(),
		ClientID:    clientID,
		UserID:      userID,
		Origin:      d.Origin,
		Destination: d.Destination,
		ShipDate:    shipDate,
		Modes:       NormalizeModes(d.RequestedModes()),
		Lines:       lines,
		Raw:         raw,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// RequestBuilder turns a quote request into per-mode provider requests.
type RequestBuilder struct {
	Locator Locator
}

func NewRequestBuilder(loc Locator) *RequestBuilder {
	if loc == nil {
		loc = PlaceholderLocator{}
	}
	return &RequestBuilder{Locator: loc}
}

// Build returns one provider request per mode of q, in mode order. All
// requests share the same locations and items.
func (b *RequestBuilder) Build(ctx context.Context, q QuoteRequest) []ProviderRequest {
	origin := providerLocation(b.Locator.Resolve(ctx, q.Origin))
	destination := providerLocation(b.Locator.Resolve(ctx, q.Destination))
	items := make([]ProviderItem, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, providerItem(l))
	}
	out := make([]ProviderRequest, 0, len(q.Modes))
	for _, m := range q.Modes {
		out = append(out, ProviderRequest{
			Origin:      origin,
			Destination: destination,
			ShipDate:    q.ShipDate.Format(shipDateLayout),
			Mode:        m,
			Items:       items,
		})
	}
	return out
}

func providerLocation(loc Location) ProviderLocation {
	return ProviderLocation{
		Country:    strings.ToUpper(strings.TrimSpace(loc.Country)),
		State:      strings.TrimSpace(loc.State),
		City:       strings.TrimSpace(loc.City),
		PostalCode: strings.TrimSpace(loc.PostalCode),
	}
}

func providerItem(l ShipmentLine) ProviderItem {
	item := ProviderItem{
		Quantity:      l.Quantity,
		PackagingCode: PalletCode,
		Weight:        l.Weight,
		WeightUnit:    strings.ToUpper(orDefault(l.WeightUnit, DefaultWeightUnit)),
	}
	if l.HasDimensions() {
		item.Length, item.Width, item.Height = *l.Length, *l.Width, *l.Height
		item.DimensionUnit = strings.ToUpper(orDefault(l.DimensionUnit, DefaultDimUnit))
	}
	switch {
	case l.FreightClass != nil:
		item.FreightClass = *l.FreightClass
	case l.HasDimensions() && l.Weight > 0:
		item.FreightClass = lineFreightClass(l)
	}
	if l.Stackable {
		item.Stackable = true
		item.StackAmount = l.StackCount
	}
	if l.Hazmat {
		h := ProviderHazmat{}
		if d := l.HazmatDetail; d != nil {
			h = ProviderHazmat{
				UNNumber:         d.UNNumber,
				PackingGroup:     d.PackingGroup,
				HazardClass:      d.HazardClass,
				EmergencyContact: d.EmergencyContact,
				EmergencyPhone:   d.EmergencyPhone,
			}
		}
		item.Hazmat = &h
	}
	return item
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}
