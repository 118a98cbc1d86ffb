package te5025

import (
	"math"
	"strconv"
	"strings"
)

// Hardware limits.
const (
	MaxVoltage = 1050.0
	MaxCurrent = 22.0

	// overrange is how far past its nominal value a range may be driven.
	overrange = 1.1

	MaxACFrequency    = 20e3
	MinPowerFrequency = 45.0
	MaxPowerFrequency = 400.0
	// DefaultPowerFrequency is used when an AC power setting leaves the
	// frequency unset.
	DefaultPowerFrequency = 50.0
	MaxPhase              = 90.0

	MaxArbitraryResistance = 40e6
)

var (
	VoltageRanges      = []float64{0.02, 0.2, 2, 20, 200, 1000}
	CurrentRanges      = []float64{200e-6, 2e-3, 0.02, 0.2, 2, 20}
	PowerCurrentRanges = []float64{2, 20}

	ResistanceValues  = []float64{0, 1, 10, 100, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9}
	CapacitanceValues = []float64{1e-9, 1e-8, 1e-7, 1e-6, 1e-5, 1e-4}
	InductanceValues  = []float64{1e-3, 1.9e-3, 5e-3, 10e-3, 19e-3, 50e-3, 0.1, 0.19, 0.5, 1, 10}
	ConductanceValues = []float64{1e-9, 1e-8, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 0.1, 1}

	ScopeFrequencies = []float64{
		0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500,
		1e3, 2e3, 5e3, 1e4, 2e4, 5e4, 1e5, 2e5, 5e5, 1e6, 2e6, 5e6, 1e7, 2e7, 5e7, 1e8,
	}
	ScopePeriods = []float64{
		1e-8, 2e-8, 5e-8, 1e-7, 2e-7, 5e-7, 1e-6, 2e-6, 5e-6, 1e-5, 2e-5, 5e-5,
		1e-4, 2e-4, 5e-4, 1e-3, 2e-3, 5e-3, 1e-2, 2e-2, 5e-2, 0.1, 0.2, 0.5, 1, 2, 5, 10,
	}
)

// TemperatureScale selects the unit of an RTD temperature.
type TemperatureScale string

const (
	ScaleCelsius    TemperatureScale = "C"
	ScaleKelvin     TemperatureScale = "K"
	ScaleFahrenheit TemperatureScale = "F"
)

type interval struct{ min, max float64 }

var rtdLimits = map[TemperatureScale]interval{
	ScaleCelsius:    {-180, 850},
	ScaleKelvin:     {93.15, 1123.15},
	ScaleFahrenheit: {-292, 1562},
}

func (s TemperatureScale) unit() Unit {
	switch s {
	case ScaleKelvin:
		return UnitKelvin
	case ScaleFahrenheit:
		return UnitFahrenheit
	}
	return UnitCelsius
}

// ParseTemperatureScale accepts "C", "K", "F" in any case. Empty means Celsius.
func ParseTemperatureScale(s string) (TemperatureScale, bool) {
	sc := TemperatureScale(strings.ToUpper(strings.TrimSpace(s)))
	if sc == "" {
		return ScaleCelsius, true
	}
	_, ok := rtdLimits[sc]
	return sc, ok
}

// ThermocoupleType is a thermocouple letter designation.
type ThermocoupleType string

// Temperature limits in Celsius.
var thermocoupleLimits = map[ThermocoupleType]interval{
	"B": {100, 1800},
	"E": {-200, 1000},
	"J": {-210, 1200},
	"K": {-200, 1250},
	"N": {-200, 1300},
	"R": {-50, 1750},
	"S": {-50, 1750},
	"T": {-200, 400},
}

// ParseThermocoupleType accepts B, E, J, K, N, R, S or T in any case. Empty
// means K.
func ParseThermocoupleType(s string) (ThermocoupleType, bool) {
	t := ThermocoupleType(strings.ToUpper(strings.TrimSpace(s)))
	if t == "" {
		return "K", true
	}
	_, ok := thermocoupleLimits[t]
	return t, ok
}

func sameValue(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

// lookup returns the table entry equal to v, so that the canonical value is
// what gets formatted onto the wire.
func lookup(v float64, table []float64) (float64, bool) {
	for _, t := range table {
		if sameValue(v, t) {
			return t, true
		}
	}
	return 0, false
}

// selectRange returns the smallest range that can carry magnitude, or false
// if none can.
func selectRange(magnitude float64, ranges []float64) (float64, bool) {
	for _, r := range ranges {
		if magnitude <= r*overrange {
			return r, true
		}
	}
	return 0, false
}

func tableString(table []float64, unit Unit) string {
	parts := make([]string, 0, len(table))
	for _, v := range table {
		parts = append(parts, Reading{Value: v, Unit: unit}.String())
	}
	return strings.Join(parts, ", ")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
