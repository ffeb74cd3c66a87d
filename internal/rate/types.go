package rate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode is a canonical freight mode code understood by the rate provider.
type Mode string

const (
	ModeLTL          Mode = "LTL"
	ModeGuaranteed   Mode = "GUARANTEED"
	ModeSmallPackage Mode = "SP"
	ModeVolume       Mode = "VOLUME"
	ModeAir          Mode = "AIR"
)

// Packaging is the packaging type of a shipment line as entered by the user.
type Packaging string

const (
	PackagingPallet Packaging = "pallet"
	PackagingCarton Packaging = "carton"
	PackagingDrum   Packaging = "drum"
)

// PalletCode is the provider packaging code sent for every line.
const PalletCode = "PLT"

const (
	DefaultCurrency   = "USD"
	DefaultService    = "Standard"
	UnknownCarrier    = "Unknown"
	DefaultWeightUnit = "LB"
	DefaultDimUnit    = "IN"
	MaxFreightClass   = 500.0
	PoundsPerKG       = 2.20462
	shipDateLayout    = "2006-01-02"
)

type Location struct {
	Country    string `json:"country"`
	State      string `json:"state"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// Hazmat holds the optional hazardous-material detail of a line.
type Hazmat struct {
	UNNumber         string `json:"un_number,omitempty"`
	PackingGroup     string `json:"packing_group,omitempty"`
	HazardClass      string `json:"hazard_class,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
	EmergencyPhone   string `json:"emergency_phone,omitempty"`
}

// ShipmentLine is one handling unit group of a shipment. Dimensions and the
// freight class are pointers so that absence can be told apart from zero.
type ShipmentLine struct {
	Quantity      int       `json:"quantity"`
	Packaging     Packaging `json:"packaging,omitempty"`
	Weight        float64   `json:"weight"`
	WeightUnit    string    `json:"weight_unit,omitempty"`
	Length        *float64  `json:"length,omitempty"`
	Width         *float64  `json:"width,omitempty"`
	Height        *float64  `json:"height,omitempty"`
	DimensionUnit string    `json:"dimension_unit,omitempty"`
	Stackable     bool      `json:"stackable"`
	StackCount    int       `json:"stack_count,omitempty"`
	Hazmat        bool      `json:"hazmat"`
	HazmatDetail  *Hazmat   `json:"hazmat_detail,omitempty"`
	FreightClass  *float64  `json:"freight_class,omitempty"`
}

// HasDimensions reports whether all three dimensions were supplied.
func (l ShipmentLine) HasDimensions() bool {
	return l.Length != nil && l.Width != nil && l.Height != nil
}

// WeightLB is the per-unit weight in pounds.
func (l ShipmentLine) WeightLB() float64 {
	if strings.EqualFold(l.WeightUnit, "KG") {
		return l.Weight * PoundsPerKG
	}
	return l.Weight
}

// TotalWeightLB is the line's weight in pounds across all units.
func (l ShipmentLine) TotalWeightLB() float64 {
	return l.WeightLB() * float64(l.Quantity)
}

// ShipmentDescription is the inbound rate-search payload.
type ShipmentDescription struct {
	Origin      Location       `json:"origin"`
	Destination Location       `json:"destination"`
	ShipDate    string         `json:"ship_date"`
	Lines       []ShipmentLine `json:"lines"`
	Modes       []string       `json:"modes"`
	Mode        string         `json:"mode,omitempty"`
}

// RequestedModes merges the single-mode and multi-mode fields.
func (d ShipmentDescription) RequestedModes() []string {
	if d.Mode == "" {
		return d.Modes
	}
	return append([]string{d.Mode}, d.Modes...)
}

// QuoteRequest is the immutable record of one rate search.
type QuoteRequest struct {
	ID          uuid.UUID       `json:"id"`
	ClientID    string          `json:"client_id"`
	UserID      string          `json:"user_id"`
	Origin      Location        `json:"origin"`
	Destination Location        `json:"destination"`
	ShipDate    time.Time       `json:"ship_date"`
	Modes       []Mode          `json:"modes"`
	Lines       []ShipmentLine  `json:"lines"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProviderLocation is the address shape the provider expects.
type ProviderLocation struct {
	Country    string `json:"country"`
	State      string `json:"state"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

type ProviderHazmat struct {
	UNNumber         string `json:"unNumber,omitempty"`
	PackingGroup     string `json:"packingGroup,omitempty"`
	HazardClass      string `json:"hazardClass,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
	EmergencyPhone   string `json:"emergencyPhone,omitempty"`
}

type ProviderItem struct {
	Quantity      int             `json:"quantity"`
	PackagingCode string          `json:"packagingCode"`
	Weight        float64         `json:"weight"`
	WeightUnit    string          `json:"weightUnit"`
	Length        float64         `json:"length,omitempty"`
	Width         float64         `json:"width,omitempty"`
	Height        float64         `json:"height,omitempty"`
	DimensionUnit string          `json:"dimensionUnit,omitempty"`
	FreightClass  float64         `json:"freightClass"`
	Stackable     bool            `json:"stackable,omitempty"`
	StackAmount   int             `json:"stackAmount,omitempty"`
	Hazmat        *ProviderHazmat `json:"hazmat,omitempty"`
}

// ProviderRequest is the canonical upstream request for a single mode.
type ProviderRequest struct {
	Origin      ProviderLocation `json:"origin"`
	Destination ProviderLocation `json:"destination"`
	ShipDate    string           `json:"shipDate"`
	Mode        Mode             `json:"mode"`
	Items       []ProviderItem   `json:"items"`
}

// RawRate is one provider rate entry, untouched, tagged with the mode it was
// requested under.
type RawRate struct {
	Mode   Mode
	Fields map[string]any
}

// NormalizedRate is the canonical rate record.
type NormalizedRate struct {
	ID          string          `json:"id"`
	CarrierName string          `json:"carrierName"`
	ServiceName string          `json:"serviceName"`
	TransitDays *int            `json:"transitDays"`
	TotalCost   float64         `json:"totalCost"`
	Currency    string          `json:"currency"`
	Mode        Mode            `json:"mode,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Record turns a normalized rate back into a raw entry. Normalizing the
// result yields the same rate.
func (r NormalizedRate) Record() RawRate {
	fields := map[string]any{
		"id":          r.ID,
		"carrierName": r.CarrierName,
		"serviceName": r.ServiceName,
		"totalCost":   r.TotalCost,
		"currency":    r.Currency,
	}
	if r.TransitDays != nil {
		fields["transitDays"] = *r.TransitDays
	}
	if len(r.Raw) > 0 {
		fields["raw"] = r.Raw
	}
	return RawRate{Mode: r.Mode, Fields: fields}
}

// ValidationError reports a malformed shipment description.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
