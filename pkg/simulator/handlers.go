package simulator

import (
	"math"
	"strconv"
	"strings"
)

type state struct {
	function string
	output   bool
	remote   bool

	voltRange float64
	voltAmpl  float64
	currRange float64
	currAmpl  float64
	frequency float64

	resistance    float64
	arbResistance float64
	capacitance   float64
	inductance    float64
	conductance   float64

	rtd      float64
	rtdScale string
	tcType   string
	tc       float64

	scopeFreq   float64
	scopePeriod float64

	powVoltage      float64
	powCurrent      float64
	powVoltageRange float64
	powCurrentRange float64
	powPhase        float64
	powUnit         string

	temperature float64
}

func powerOnState() state {
	return state{
		function:        "DC",
		voltRange:       20,
		currRange:       0.2,
		frequency:       50,
		rtdScale:        "C",
		tcType:          "K",
		scopeFreq:       1e3,
		scopePeriod:     1e-3,
		powVoltageRange: 200,
		powCurrentRange: 2,
		powUnit:         "WATT",
		temperature:     23.4,
	}
}

var (
	voltageRanges      = []float64{0.02, 0.2, 2, 20, 200, 1000}
	currentRanges      = []float64{200e-6, 2e-3, 0.02, 0.2, 2, 20}
	powerCurrentRanges = []float64{2, 20}
	thermocoupleTypes  = "BEJKNRST"
)

type scpiError struct {
	code int
	msg  string
}

var (
	errOutOfRange = &scpiError{code: codeOutOfRange, msg: "Data out of range"}
	errMissing    = &scpiError{code: codeMissingParameter, msg: "Missing parameter"}
	errConflict   = &scpiError{code: codeSettingsConflict, msg: "Settings conflict"}
)

// nr3 formats like the instrument: +1.000000E+01.
func nr3(v float64) string {
	s := strconv.FormatFloat(v, 'E', 6, 64)
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}

func parseValue(arg string) (float64, *scpiError) {
	if arg == "" {
		return 0, errMissing
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &scpiError{code: -104, msg: "Data type error"}
	}
	return v, nil
}

func parsePair(arg string) (float64, float64, *scpiError) {
	a, b, ok := strings.Cut(arg, ",")
	if !ok {
		return 0, 0, errMissing
	}
	x, err := parseValue(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, err
	}
	y, err := parseValue(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func oneOf(v float64, table []float64) bool {
	for _, t := range table {
		if math.Abs(v-t) <= 1e-9*math.Max(math.Abs(v), math.Abs(t)) {
			return true
		}
	}
	return false
}

func setter(dst func(*state) *float64, fn string, check func(*state, float64) bool) func(*Instrument, string) *scpiError {
	return func(in *Instrument, arg string) *scpiError {
		v, err := parseValue(arg)
		if err != nil {
			return err
		}
		if check != nil && !check(&in.state, v) {
			return errOutOfRange
		}
		*dst(&in.state) = v
		if fn != "" {
			in.state.function = fn
		}
		return nil
	}
}

func getter(src func(*state) float64) func(*Instrument) string {
	return func(in *Instrument) string { return nr3(src(&in.state)) }
}

func between(lo, hi float64) func(*state, float64) bool {
	return func(_ *state, v float64) bool { return v >= lo && v <= hi }
}

func inTable(table []float64) func(*state, float64) bool {
	return func(_ *state, v float64) bool { return oneOf(v, table) }
}

func bool01(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var commandHandlers = map[string]func(*Instrument, string) *scpiError{
	"*CLS": func(in *Instrument, _ string) *scpiError {
		in.errors = nil
		return nil
	},
	"*RST": func(in *Instrument, _ string) *scpiError {
		in.state = powerOnState()
		return nil
	},
	"SYST:REM": func(in *Instrument, _ string) *scpiError {
		in.state.remote = true
		return nil
	},
	"SYST:LOC": func(in *Instrument, _ string) *scpiError {
		in.state.remote = false
		return nil
	},
	"FUNC": func(in *Instrument, arg string) *scpiError {
		fn := strings.ToUpper(arg)
		switch fn {
		case "DC", "SIN":
			in.state.function = fn
			return nil
		}
		return errOutOfRange
	},
	"OUTP": func(in *Instrument, arg string) *scpiError {
		switch strings.ToUpper(arg) {
		case "ON", "1":
			if in.faults.SafetyLoopOpen {
				in.state.output = false
				return &scpiError{code: codeSettingsConflict, msg: "Settings conflict;safety loop open"}
			}
			in.state.output = true
		case "OFF", "0":
			in.state.output = false
		default:
			return errOutOfRange
		}
		return nil
	},
	"VOLT:RANG": setter(func(s *state) *float64 { return &s.voltRange }, "", inTable(voltageRanges)),
	"VOLT:AMPL": setter(func(s *state) *float64 { return &s.voltAmpl }, "", func(s *state, v float64) bool {
		return math.Abs(v) <= 1050 && math.Abs(v) <= s.voltRange*1.1 && (s.function == "DC" || v >= 0)
	}),
	"CURR:RANG": setter(func(s *state) *float64 { return &s.currRange }, "", inTable(currentRanges)),
	"CURR:AMPL": setter(func(s *state) *float64 { return &s.currAmpl }, "", func(s *state, v float64) bool {
		return math.Abs(v) <= 22 && math.Abs(v) <= s.currRange*1.1 && (s.function == "DC" || v >= 0)
	}),
	"FREQ": setter(func(s *state) *float64 { return &s.frequency }, "", func(_ *state, v float64) bool {
		return v > 0 && v <= 20e3
	}),
	"RES":       setter(func(s *state) *float64 { return &s.resistance }, "RES", between(0, 1e9)),
	"SRES":      setter(func(s *state) *float64 { return &s.arbResistance }, "SRES", between(0, 40e6)),
	"CAP":       setter(func(s *state) *float64 { return &s.capacitance }, "CAP", between(1e-9, 1e-4)),
	"IND":       setter(func(s *state) *float64 { return &s.inductance }, "IND", between(1e-3, 10)),
	"COND":      setter(func(s *state) *float64 { return &s.conductance }, "COND", between(1e-9, 1)),
	"PULS:SFR":  setter(func(s *state) *float64 { return &s.scopeFreq }, "PULS", between(0.1, 1e8)),
	"PULS:SPER": setter(func(s *state) *float64 { return &s.scopePeriod }, "PULS", between(1e-8, 10)),
	"THER":      setter(func(s *state) *float64 { return &s.tc }, "THER", between(-210, 1800)),
	"POW:PHASE": setter(func(s *state) *float64 { return &s.powPhase }, "", between(-90, 90)),
	"RTD": func(in *Instrument, arg string) *scpiError {
		arg = strings.ToUpper(arg)
		scale := "C"
		if n := len(arg); n > 0 && strings.ContainsRune("CKF", rune(arg[n-1])) {
			scale, arg = arg[n-1:], arg[:n-1]
		}
		v, err := parseValue(arg)
		if err != nil {
			return err
		}
		in.state.rtd, in.state.rtdScale, in.state.function = v, scale, "RTD"
		return nil
	},
	"THER:TYPE": func(in *Instrument, arg string) *scpiError {
		t := strings.ToUpper(arg)
		if len(t) != 1 || !strings.Contains(thermocoupleTypes, t) {
			return errOutOfRange
		}
		in.state.tcType = t
		return nil
	},
	"POW:RANG": func(in *Instrument, arg string) *scpiError {
		v, c, err := parsePair(arg)
		if err != nil {
			return err
		}
		if !oneOf(v, voltageRanges) || !oneOf(c, powerCurrentRanges) {
			return errOutOfRange
		}
		in.state.powVoltageRange, in.state.powCurrentRange = v, c
		return nil
	},
	"POW": func(in *Instrument, arg string) *scpiError {
		if in.state.output {
			return errConflict
		}
		v, c, err := parsePair(arg)
		if err != nil {
			return err
		}
		if v < 0 || c < 0 || v > in.state.powVoltageRange*1.1 || c > in.state.powCurrentRange*1.1 {
			return errOutOfRange
		}
		in.state.powVoltage, in.state.powCurrent = v, c
		return nil
	},
	"UNIT:PHAS": func(in *Instrument, arg string) *scpiError {
		if strings.ToUpper(arg) != "DEG" {
			return errOutOfRange
		}
		return nil
	},
	"UNIT:POW": func(in *Instrument, arg string) *scpiError {
		u := strings.ToUpper(arg)
		if u != "WATT" && u != "VA" {
			return errOutOfRange
		}
		in.state.powUnit = u
		return nil
	},
	"UNIT:TEMP": func(in *Instrument, arg string) *scpiError {
		if strings.ToUpper(arg) != "C" {
			return errOutOfRange
		}
		return nil
	},
}

var queryHandlers = map[string]func(*Instrument) string{
	"*IDN?": func(*Instrument) string { return DefaultIdentity },
	"SYST:ERR?": func(in *Instrument) string {
		if len(in.errors) == 0 {
			return `0,"No error"`
		}
		e := in.errors[0]
		in.errors = in.errors[1:]
		return e
	},
	"SYST:ERR:COUN?":    func(in *Instrument) string { return strconv.Itoa(len(in.errors)) },
	"FUNC?":             func(in *Instrument) string { return in.state.function },
	"OUTP?":             func(in *Instrument) string { return bool01(in.state.output) },
	"VOLT:RANG?":        getter(func(s *state) float64 { return s.voltRange }),
	"VOLT:AMPL?":        getter(func(s *state) float64 { return s.voltAmpl }),
	"CURR:RANG?":        getter(func(s *state) float64 { return s.currRange }),
	"CURR:AMPL?":        getter(func(s *state) float64 { return s.currAmpl }),
	"FREQ?":             getter(func(s *state) float64 { return s.frequency }),
	"RES?":              getter(func(s *state) float64 { return s.resistance }),
	"SRES?":             getter(func(s *state) float64 { return s.arbResistance }),
	"CAP?":              getter(func(s *state) float64 { return s.capacitance }),
	"IND?":              getter(func(s *state) float64 { return s.inductance }),
	"COND?":             getter(func(s *state) float64 { return s.conductance }),
	"THER?":             getter(func(s *state) float64 { return s.tc }),
	"PULS:SFR?":         getter(func(s *state) float64 { return s.scopeFreq }),
	"PULS:SPER?":        getter(func(s *state) float64 { return s.scopePeriod }),
	"POW:PHASE?":        getter(func(s *state) float64 { return s.powPhase }),
	"SYST:MOD:VS:TEMP?": getter(func(s *state) float64 { return s.temperature }),
	"RTD?":              func(in *Instrument) string { return nr3(in.state.rtd) + in.state.rtdScale },
	"THER:TYPE?":        func(in *Instrument) string { return in.state.tcType },
	"POW?": func(in *Instrument) string {
		return nr3(in.state.powVoltage) + "," + nr3(in.state.powCurrent)
	},
	"POW:POW?": func(in *Instrument) string {
		s := in.state
		p := s.powVoltage * s.powCurrent
		if s.powUnit == "WATT" && s.function == "SIN" {
			p *= math.Cos(s.powPhase * math.Pi / 180)
		}
		return nr3(p)
	},
}
