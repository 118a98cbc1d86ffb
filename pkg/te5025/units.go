package te5025

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Unit tags the physical quantity of a value.
type Unit string

const (
	UnitNone       Unit = ""
	UnitVolt       Unit = "V"
	UnitAmpere     Unit = "A"
	UnitHertz      Unit = "Hz"
	UnitOhm        Unit = "Ohm"
	UnitFarad      Unit = "F"
	UnitHenry      Unit = "H"
	UnitSiemens    Unit = "S"
	UnitSecond     Unit = "s"
	UnitWatt       Unit = "W"
	UnitVoltAmpere Unit = "VA"
	UnitDegree     Unit = "deg"
	UnitCelsius    Unit = "degC"
	UnitKelvin     Unit = "K"
	UnitFahrenheit Unit = "degF"
)

// Reading is a value with its unit.
type Reading struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

var siPrefixes = []struct {
	exp    int
	prefix string
}{
	{9, "G"}, {6, "M"}, {3, "k"}, {0, ""}, {-3, "m"}, {-6, "u"}, {-9, "n"}, {-12, "p"},
}

func (u Unit) scalable() bool {
	switch u {
	case UnitNone, UnitDegree, UnitCelsius, UnitKelvin, UnitFahrenheit:
		return false
	}
	return true
}

func (u Unit) symbol() string {
	switch u {
	case UnitOhm:
		return "Ω"
	case UnitCelsius:
		return "°C"
	case UnitFahrenheit:
		return "°F"
	case UnitDegree:
		return "°"
	}
	return string(u)
}

// String formats the reading with an SI prefix, e.g. "200 mV" or "10 MΩ".
func (r Reading) String() string {
	if !r.Unit.scalable() || r.Value == 0 || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return strings.TrimSpace(strconv.FormatFloat(r.Value, 'g', -1, 64) + " " + r.Unit.symbol())
	}

	abs := math.Abs(r.Value)
	for _, p := range siPrefixes {
		scale := math.Pow10(p.exp)
		if abs >= scale*(1-1e-12) {
			v := r.Value / scale
			// Trim representation noise such as 0.19999999999999998.
			s := strconv.FormatFloat(v, 'g', 12, 64)
			f, _ := strconv.ParseFloat(s, 64)
			return strconv.FormatFloat(f, 'g', -1, 64) + " " + p.prefix + r.Unit.symbol()
		}
	}

	return strconv.FormatFloat(r.Value, 'g', -1, 64) + " " + r.Unit.symbol()
}

var prefixMultipliers = map[rune]float64{
	'p': 1e-12,
	'n': 1e-9,
	'u': 1e-6,
	'µ': 1e-6,
	'm': 1e-3,
	'k': 1e3,
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
}

// ParseQuantity parses a number with an optional SI prefix and unit, such as
// "200mV", "1.5k", "10 MOhm", "-2.5e-3" or "20". The unit text after the
// prefix is not checked. A lone "K" is kelvin, "1.5KOhm" is still kilo.
func ParseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && strings.ContainsRune("0123456789+-.eE", rune(s[end])) {
		// An 'e' not followed by a digit or sign is not an exponent.
		if (s[end] == 'e' || s[end] == 'E') && (end+1 >= len(s) || !strings.ContainsRune("0123456789+-", rune(s[end+1]))) {
			break
		}
		end++
	}

	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}

	suffix := strings.TrimSpace(s[end:])
	if suffix == "" {
		return v, nil
	}

	if suffix == string(UnitKelvin) {
		return v, nil
	}

	r, size := utf8.DecodeRuneInString(suffix)
	if mul, ok := prefixMultipliers[r]; ok {
		rest := suffix[size:]
		// "m" alone or followed by a unit is milli.
		if rest == "" || isUnitText(rest) {
			return v * mul, nil
		}
	}

	if !isUnitText(suffix) {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

func isUnitText(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == 'Ω' || r == '°') {
			return false
		}
	}
	return s != ""
}
