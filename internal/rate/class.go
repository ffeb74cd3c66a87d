package rate

import "strings"

// classBand maps a minimum density (lb per cubic foot) to a freight class.
type classBand struct {
	minDensity float64
	class      float64
}

// classTable is ordered by descending density.
var classTable = []classBand{
	{50, 50},
	{35, 55},
	{30, 60},
	{22.5, 65},
	{15, 70},
	{13.5, 77.5},
	{12, 85},
	{10.5, 92.5},
	{9, 100},
	{8, 110},
	{7, 125},
	{6, 150},
	{5, 175},
	{4, 200},
	{3, 250},
	{2, 300},
	{1, 400},
}

const cubicInchesPerFoot = 1728.0

// FreightClass derives the density-based freight class from a weight in
// pounds and dimensions in inches. Any zero input, or a zero density, yields
// class 0 (unclassified).
func FreightClass(weight, length, width, height float64) float64 {
	if weight <= 0 || length <= 0 || width <= 0 || height <= 0 {
		return 0
	}
	volume := (length * width * height) / cubicInchesPerFoot
	density := weight / volume
	if density <= 0 {
		return 0
	}
	for _, band := range classTable {
		if density >= band.minDensity {
			return band.class
		}
	}
	return MaxFreightClass
}

// lineFreightClass computes the class for a line, converting metric units to
// pounds and inches first.
func lineFreightClass(l ShipmentLine) float64 {
	if !l.HasDimensions() {
		return 0
	}
	weight := l.WeightLB()
	length, width, height := *l.Length, *l.Width, *l.Height
	if strings.EqualFold(l.DimensionUnit, "CM") {
		length, width, height = length/2.54, width/2.54, height/2.54
	}
	return FreightClass(weight, length, width, height)
}
