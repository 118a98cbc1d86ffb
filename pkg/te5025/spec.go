package te5025

import (
	"fmt"
	"strings"
)

// SettingSpec is the serialisable form of an OutputSetting, used by the HTTP
// API, the CLI and sequence files. Which fields matter depends on Function:
//
//	dcv, dci, acv, aci     Range, Value (amplitude), Frequency (AC only)
//	resistance .. period   Value
//	rtd                    Value, Scale
//	thermocouple           Value, Type
//	dc-power, ac-power     Range, Value (voltage), CurrentRange, Current,
//	                       Frequency and Phase (AC only)
type SettingSpec struct {
	Function     Function `json:"function"`
	Range        float64  `json:"range,omitempty"`
	Value        float64  `json:"value"`
	Frequency    float64  `json:"frequency,omitempty"`
	Current      float64  `json:"current,omitempty"`
	CurrentRange float64  `json:"currentRange,omitempty"`
	Phase        float64  `json:"phase,omitempty"`
	Scale        string   `json:"scale,omitempty"`
	Type         string   `json:"type,omitempty"`
}

// ParseFunction accepts a function name in any case.
func ParseFunction(s string) (Function, error) {
	f := Function(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Functions() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output function %q", s)
}

// Setting converts the spec into the matching OutputSetting. It does not
// validate limits; SetOutput and Validate do that.
func (s SettingSpec) Setting() (OutputSetting, error) {
	f, err := ParseFunction(string(s.Function))
	if err != nil {
		return nil, err
	}

	switch f {
	case FunctionDCVoltage:
		return DCVoltage{Range: s.Range, Amplitude: s.Value}, nil
	case FunctionACVoltage:
		return ACVoltage{Range: s.Range, Amplitude: s.Value, Frequency: s.Frequency}, nil
	case FunctionDCCurrent:
		return DCCurrent{Range: s.Range, Amplitude: s.Value}, nil
	case FunctionACCurrent:
		return ACCurrent{Range: s.Range, Amplitude: s.Value, Frequency: s.Frequency}, nil
	case FunctionResistance:
		return Resistance{Ohms: s.Value}, nil
	case FunctionArbitraryResistance:
		return ArbitraryResistance{Ohms: s.Value}, nil
	case FunctionCapacitance:
		return Capacitance{Farads: s.Value}, nil
	case FunctionInductance:
		return Inductance{Henries: s.Value}, nil
	case FunctionConductance:
		return Conductance{Siemens: s.Value}, nil
	case FunctionRTD:
		sc, ok := ParseTemperatureScale(s.Scale)
		if !ok {
			return nil, fmt.Errorf("unknown temperature scale %q", s.Scale)
		}
		return RTD{Temperature: s.Value, Scale: sc}, nil
	case FunctionThermocouple:
		t, ok := ParseThermocoupleType(s.Type)
		if !ok {
			return nil, fmt.Errorf("unknown thermocouple type %q", s.Type)
		}
		return Thermocouple{Type: t, Temperature: s.Value}, nil
	case FunctionScopeFrequency:
		return ScopeFrequency{Hertz: s.Value}, nil
	case FunctionScopePeriod:
		return ScopePeriod{Seconds: s.Value}, nil
	case FunctionDCPower:
		return DCPower{Voltage: s.Value, Current: s.Current, VoltageRange: s.Range, CurrentRange: s.CurrentRange}, nil
	case FunctionACPower:
		return ACPower{
			Voltage:      s.Value,
			Current:      s.Current,
			Frequency:    s.Frequency,
			Phase:        s.Phase,
			VoltageRange: s.Range,
			CurrentRange: s.CurrentRange,
		}, nil
	}

	return nil, fmt.Errorf("unknown output function %q", s.Function)
}
