package te5025

import (
	"fmt"
	"math"
)

// Function names an output function of the calibrator.
type Function string

const (
	FunctionDCVoltage           Function = "dcv"
	FunctionACVoltage           Function = "acv"
	FunctionDCCurrent           Function = "dci"
	FunctionACCurrent           Function = "aci"
	FunctionResistance          Function = "resistance"
	FunctionArbitraryResistance Function = "arbitrary-resistance"
	FunctionCapacitance         Function = "capacitance"
	FunctionInductance          Function = "inductance"
	FunctionConductance         Function = "conductance"
	FunctionRTD                 Function = "rtd"
	FunctionThermocouple        Function = "thermocouple"
	FunctionScopeFrequency      Function = "scope-frequency"
	FunctionScopePeriod         Function = "scope-period"
	FunctionDCPower             Function = "dc-power"
	FunctionACPower             Function = "ac-power"
)

// Functions lists every supported output function.
func Functions() []Function {
	return []Function{
		FunctionDCVoltage, FunctionACVoltage, FunctionDCCurrent, FunctionACCurrent,
		FunctionResistance, FunctionArbitraryResistance, FunctionCapacitance,
		FunctionInductance, FunctionConductance, FunctionRTD, FunctionThermocouple,
		FunctionScopeFrequency, FunctionScopePeriod, FunctionDCPower, FunctionACPower,
	}
}

// OutputSetting is a requested output. The set of implementations is closed:
// every variant is defined in this package and carries its own validation,
// command formatting and readback.
type OutputSetting interface {
	Function() Function
	// Validate checks the setting against the instrument's limits without
	// touching the instrument.
	Validate() error
	Spec() SettingSpec
	String() string

	program() (program, error)
}

// program is a validated setting ready to be sent.
type program struct {
	commands []string
	echoes   []echoCheck
	// disableFirst turns the output off through the confirmed path before
	// the commands are sent.
	disableFirst bool
}

// echoTolerance is the readback deviation accepted by SetOutput, relative to
// the larger of the requested value and its range: 10 ppm.
const echoTolerance = 1e-5

// echoCheck compares one readback value with what was requested.
type echoCheck struct {
	query Query
	// index selects the value in a pair response.
	index int
	want  float64
	// scale is the magnitude the tolerance is relative to, usually the range.
	scale float64
	// word is compared instead of want for word responses.
	word string
}

func (c echoCheck) matches(resp Response) bool {
	if c.query.kind == KindWord {
		return resp.Word == c.word
	}
	if c.index >= len(resp.Readings) {
		return false
	}
	got := resp.Readings[c.index].Value
	tol := echoTolerance*math.Max(math.Abs(c.want), math.Abs(c.scale)) + 1e-12
	return math.Abs(got-c.want) <= tol
}

func (c echoCheck) expected() string {
	if c.query.kind == KindWord {
		return c.word
	}
	return formatNumber(c.want)
}

// resolveRange validates an amplitude and returns the range to program. A
// zero rng selects the smallest range that can carry the amplitude.
func resolveRange(quantity string, amplitude, rng float64, unit Unit, limit float64, ranges []float64, signed bool) (float64, error) {
	if !finite(amplitude) {
		return 0, outOfRange(quantity, amplitude, unit, "not a finite number")
	}
	if !signed && amplitude < 0 {
		return 0, outOfRange(quantity, amplitude, unit, "must not be negative")
	}

	mag := math.Abs(amplitude)
	if mag > limit {
		return 0, outOfRange(quantity, amplitude, unit, "magnitude exceeds the %s limit", Reading{Value: limit, Unit: unit})
	}

	if rng == 0 {
		r, ok := selectRange(mag, ranges)
		if !ok {
			return 0, outOfRange(quantity, amplitude, unit, "no range can carry this value")
		}
		return r, nil
	}

	r, ok := lookup(rng, ranges)
	if !ok {
		return 0, outOfRange(quantity+" range", rng, unit, "must be one of %s", tableString(ranges, unit))
	}
	if mag > r*overrange {
		return 0, outOfRange(quantity, amplitude, unit, "exceeds 110%% of the %s range", Reading{Value: r, Unit: unit})
	}
	return r, nil
}

func checkACFrequency(f float64) error {
	if !finite(f) || f <= 0 || f > MaxACFrequency {
		return outOfRange("frequency", f, UnitHertz, "must be in (0, %s]", Reading{Value: MaxACFrequency, Unit: UnitHertz})
	}
	return nil
}

func checkTable(quantity string, v float64, unit Unit, table []float64) (float64, error) {
	t, ok := lookup(v, table)
	if !ok {
		return 0, outOfRange(quantity, v, unit, "must be one of %s", tableString(table, unit))
	}
	return t, nil
}

// DCVoltage sources a DC voltage. Amplitude is signed.
type DCVoltage struct {
	// Range is one of VoltageRanges, or 0 to select automatically.
	Range     float64
	Amplitude float64
}

func (s DCVoltage) Function() Function { return FunctionDCVoltage }
func (s DCVoltage) Validate() error    { _, err := s.program(); return err }
func (s DCVoltage) String() string {
	return "DC " + Reading{Value: s.Amplitude, Unit: UnitVolt}.String()
}

func (s DCVoltage) Spec() SettingSpec {
	return SettingSpec{Function: FunctionDCVoltage, Range: s.Range, Value: s.Amplitude}
}

func (s DCVoltage) program() (program, error) {
	r, err := resolveRange("voltage", s.Amplitude, s.Range, UnitVolt, MaxVoltage, VoltageRanges, true)
	if err != nil {
		return program{}, err
	}
	return program{
		commands: []string{
			"FUNC DC",
			"VOLT:RANG " + formatNumber(r),
			"VOLT:AMPL " + formatNumber(s.Amplitude),
		},
		echoes: []echoCheck{
			{query: QueryVoltage, want: s.Amplitude, scale: r},
			{query: QueryVoltageRange, want: r, scale: r},
		},
	}, nil
}

// ACVoltage sources a sine voltage. Amplitude is RMS and non-negative.
type ACVoltage struct {
	Range     float64
	Amplitude float64
	Frequency float64
}

func (s ACVoltage) Function() Function { return FunctionACVoltage }
func (s ACVoltage) Validate() error    { _, err := s.program(); return err }

func (s ACVoltage) String() string {
	return fmt.Sprintf("AC %s @ %s", Reading{Value: s.Amplitude, Unit: UnitVolt}, Reading{Value: s.Frequency, Unit: UnitHertz})
}

func (s ACVoltage) Spec() SettingSpec {
	return SettingSpec{Function: FunctionACVoltage, Range: s.Range, Value: s.Amplitude, Frequency: s.Frequency}
}

func (s ACVoltage) program() (program, error) {
	r, err := resolveRange("voltage", s.Amplitude, s.Range, UnitVolt, MaxVoltage, VoltageRanges, false)
	if err != nil {
		return program{}, err
	}
	if err := checkACFrequency(s.Frequency); err != nil {
		return program{}, err
	}
	return program{
		commands: []string{
			"FUNC SIN",
			"FREQ " + formatNumber(s.Frequency),
			"VOLT:RANG " + formatNumber(r),
			"VOLT:AMPL " + formatNumber(s.Amplitude),
		},
		echoes: []echoCheck{
			{query: QueryVoltage, want: s.Amplitude, scale: r},
			{query: QueryVoltageRange, want: r, scale: r},
			{query: QueryFrequency, want: s.Frequency, scale: s.Frequency},
		},
	}, nil
}

// DCCurrent sources a DC current. Amplitude is signed.
type DCCurrent struct {
	// Range is one of CurrentRanges, or 0 to select automatically.
	Range     float64
	Amplitude float64
}

func (s DCCurrent) Function() Function { return FunctionDCCurrent }
func (s DCCurrent) Validate() error    { _, err := s.program(); return err }
func (s DCCurrent) String() string {
	return "DC " + Reading{Value: s.Amplitude, Unit: UnitAmpere}.String()
}

func (s DCCurrent) Spec() SettingSpec {
	return SettingSpec{Function: FunctionDCCurrent, Range: s.Range, Value: s.Amplitude}
}

func (s DCCurrent) program() (program, error) {
	r, err := resolveRange("current", s.Amplitude, s.Range, UnitAmpere, MaxCurrent, CurrentRanges, true)
	if err != nil {
		return program{}, err
	}
	return program{
		commands: []string{
			"FUNC DC",
			"CURR:RANG " + formatNumber(r),
			"CURR:AMPL " + formatNumber(s.Amplitude),
		},
		echoes: []echoCheck{
			{query: QueryCurrent, want: s.Amplitude, scale: r},
			{query: QueryCurrentRange, want: r, scale: r},
		},
	}, nil
}

// ACCurrent sources a sine current. Amplitude is RMS and non-negative.
type ACCurrent struct {
	Range     float64
	Amplitude float64
	Frequency float64
}

func (s ACCurrent) Function() Function { return FunctionACCurrent }
func (s ACCurrent) Validate() error    { _, err := s.program(); return err }

func (s ACCurrent) String() string {
	return fmt.Sprintf("AC %s @ %s", Reading{Value: s.Amplitude, Unit: UnitAmpere}, Reading{Value: s.Frequency, Unit: UnitHertz})
}

func (s ACCurrent) Spec() SettingSpec {
	return SettingSpec{Function: FunctionACCurrent, Range: s.Range, Value: s.Amplitude, Frequency: s.Frequency}
}

func (s ACCurrent) program() (program, error) {
	r, err := resolveRange("current", s.Amplitude, s.Range, UnitAmpere, MaxCurrent, CurrentRanges, false)
	if err != nil {
		return program{}, err
	}
	if err := checkACFrequency(s.Frequency); err != nil {
		return program{}, err
	}
	return program{
		commands: []string{
			"FUNC SIN",
			"FREQ " + formatNumber(s.Frequency),
			"CURR:RANG " + formatNumber(r),
			"CURR:AMPL " + formatNumber(s.Amplitude),
		},
		echoes: []echoCheck{
			{query: QueryCurrent, want: s.Amplitude, scale: r},
			{query: QueryCurrentRange, want: r, scale: r},
			{query: QueryFrequency, want: s.Frequency, scale: s.Frequency},
		},
	}, nil
}

// singleValue is the shape shared by the fixed-value functions: one command,
// one echo query.
func singleValue(quantity, command string, q Query, v float64, table []float64) (program, error) {
	t, err := checkTable(quantity, v, q.Unit(), table)
	if err != nil {
		return program{}, err
	}
	return program{
		commands: []string{command + " " + formatNumber(t)},
		echoes:   []echoCheck{{query: q, want: t, scale: t}},
	}, nil
}

// Resistance selects one of the fixed resistance decades.
type Resistance struct {
	Ohms float64
}

func (s Resistance) Function() Function { return FunctionResistance }
func (s Resistance) Validate() error    { _, err := s.program(); return err }
func (s Resistance) String() string {
	return Reading{Value: s.Ohms, Unit: UnitOhm}.String()
}

func (s Resistance) Spec() SettingSpec {
	return SettingSpec{Function: FunctionResistance, Value: s.Ohms}
}

func (s Resistance) program() (program, error) {
	return singleValue("resistance", "RES", QueryResistance, s.Ohms, ResistanceValues)
}

// ArbitraryResistance synthesises any resistance up to 40 MΩ.
type ArbitraryResistance struct {
	Ohms float64
}

func (s ArbitraryResistance) Function() Function { return FunctionArbitraryResistance }
func (s ArbitraryResistance) Validate() error    { _, err := s.program(); return err }
func (s ArbitraryResistance) String() string {
	return Reading{Value: s.Ohms, Unit: UnitOhm}.String()
}

func (s ArbitraryResistance) Spec() SettingSpec {
	return SettingSpec{Function: FunctionArbitraryResistance, Value: s.Ohms}
}

func (s ArbitraryResistance) program() (program, error) {
	if !finite(s.Ohms) || s.Ohms < 0 || s.Ohms > MaxArbitraryResistance {
		return program{}, outOfRange("resistance", s.Ohms, UnitOhm, "must be in [0, %s]", Reading{Value: MaxArbitraryResistance, Unit: UnitOhm})
	}
	return program{
		commands: []string{"SRES " + formatNumber(s.Ohms)},
		echoes:   []echoCheck{{query: QueryArbitraryResistance, want: s.Ohms, scale: s.Ohms}},
	}, nil
}

// Capacitance selects one of the fixed capacitance decades.
type Capacitance struct {
	Farads float64
}

func (s Capacitance) Function() Function { return FunctionCapacitance }
func (s Capacitance) Validate() error    { _, err := s.program(); return err }
func (s Capacitance) String() string {
	return Reading{Value: s.Farads, Unit: UnitFarad}.String()
}

func (s Capacitance) Spec() SettingSpec {
	return SettingSpec{Function: FunctionCapacitance, Value: s.Farads}
}

func (s Capacitance) program() (program, error) {
	return singleValue("capacitance", "CAP", QueryCapacitance, s.Farads, CapacitanceValues)
}

// Inductance selects one of the fixed inductors.
type Inductance struct {
	Henries float64
}

func (s Inductance) Function() Function { return FunctionInductance }
func (s Inductance) Validate() error    { _, err := s.program(); return err }
func (s Inductance) String() string {
	return Reading{Value: s.Henries, Unit: UnitHenry}.String()
}

func (s Inductance) Spec() SettingSpec {
	return SettingSpec{Function: FunctionInductance, Value: s.Henries}
}

func (s Inductance) program() (program, error) {
	return singleValue("inductance", "IND", QueryInductance, s.Henries, InductanceValues)
}

// Conductance selects one of the fixed conductance decades.
type Conductance struct {
	Siemens float64
}

func (s Conductance) Function() Function { return FunctionConductance }
func (s Conductance) Validate() error    { _, err := s.program(); return err }
func (s Conductance) String() string {
	return Reading{Value: s.Siemens, Unit: UnitSiemens}.String()
}

func (s Conductance) Spec() SettingSpec {
	return SettingSpec{Function: FunctionConductance, Value: s.Siemens}
}

func (s Conductance) program() (program, error) {
	return singleValue("conductance", "COND", QueryConductance, s.Siemens, ConductanceValues)
}

// RTD simulates a PT100 at the given temperature.
type RTD struct {
	Temperature float64
	// Scale defaults to Celsius.
	Scale TemperatureScale
}

func (s RTD) Function() Function { return FunctionRTD }
func (s RTD) Validate() error    { _, err := s.program(); return err }
func (s RTD) String() string {
	return "PT100 " + Reading{Value: s.Temperature, Unit: s.scale().unit()}.String()
}

func (s RTD) Spec() SettingSpec {
	return SettingSpec{Function: FunctionRTD, Value: s.Temperature, Scale: string(s.scale())}
}

func (s RTD) scale() TemperatureScale {
	if s.Scale == "" {
		return ScaleCelsius
	}
	return s.Scale
}

func (s RTD) program() (program, error) {
	sc := s.scale()
	lim, ok := rtdLimits[sc]
	if !ok {
		return program{}, outOfRange("RTD scale", s.Temperature, UnitNone, "unknown temperature scale %q", s.Scale)
	}
	if !finite(s.Temperature) || s.Temperature < lim.min || s.Temperature > lim.max {
		return program{}, outOfRange("RTD temperature", s.Temperature, sc.unit(), "must be in [%s, %s] %s",
			formatNumber(lim.min), formatNumber(lim.max), sc)
	}
	return program{
		commands: []string{"RTD " + formatNumber(s.Temperature) + string(sc)},
		echoes:   []echoCheck{{query: QueryRTD, want: s.Temperature, scale: lim.max}},
	}, nil
}

// Thermocouple simulates a thermocouple of the given type at a temperature in
// Celsius.
type Thermocouple struct {
	// Type defaults to K.
	Type        ThermocoupleType
	Temperature float64
}

func (s Thermocouple) Function() Function { return FunctionThermocouple }
func (s Thermocouple) Validate() error    { _, err := s.program(); return err }

func (s Thermocouple) String() string {
	return "type " + string(s.kind()) + " " + Reading{Value: s.Temperature, Unit: UnitCelsius}.String()
}

func (s Thermocouple) Spec() SettingSpec {
	return SettingSpec{Function: FunctionThermocouple, Value: s.Temperature, Type: string(s.kind())}
}

func (s Thermocouple) kind() ThermocoupleType {
	if s.Type == "" {
		return "K"
	}
	return s.Type
}

func (s Thermocouple) program() (program, error) {
	t := s.kind()
	lim, ok := thermocoupleLimits[t]
	if !ok {
		return program{}, outOfRange("thermocouple type", s.Temperature, UnitCelsius, "unknown thermocouple type %q", s.Type)
	}
	if !finite(s.Temperature) || s.Temperature < lim.min || s.Temperature > lim.max {
		return program{}, outOfRange("type "+string(t)+" thermocouple", s.Temperature, UnitCelsius, "must be in [%s, %s] C",
			formatNumber(lim.min), formatNumber(lim.max))
	}
	return program{
		commands: []string{
			"THER:TYPE " + string(t),
			"THER " + formatNumber(s.Temperature),
		},
		echoes: []echoCheck{
			{query: QueryThermocouple, want: s.Temperature, scale: lim.max},
			{query: QueryThermocoupleType, word: string(t)},
		},
	}, nil
}

// ScopeFrequency drives the oscilloscope calibration output at a fixed
// frequency.
type ScopeFrequency struct {
	Hertz float64
}

func (s ScopeFrequency) Function() Function { return FunctionScopeFrequency }
func (s ScopeFrequency) Validate() error    { _, err := s.program(); return err }
func (s ScopeFrequency) String() string {
	return "scope " + Reading{Value: s.Hertz, Unit: UnitHertz}.String()
}

func (s ScopeFrequency) Spec() SettingSpec {
	return SettingSpec{Function: FunctionScopeFrequency, Value: s.Hertz}
}

func (s ScopeFrequency) program() (program, error) {
	return singleValue("scope frequency", "PULS:SFR", QueryScopeFrequency, s.Hertz, ScopeFrequencies)
}

// ScopePeriod drives the oscilloscope calibration output at a fixed period.
type ScopePeriod struct {
	Seconds float64
}

func (s ScopePeriod) Function() Function { return FunctionScopePeriod }
func (s ScopePeriod) Validate() error    { _, err := s.program(); return err }
func (s ScopePeriod) String() string {
	return "scope " + Reading{Value: s.Seconds, Unit: UnitSecond}.String()
}

func (s ScopePeriod) Spec() SettingSpec {
	return SettingSpec{Function: FunctionScopePeriod, Value: s.Seconds}
}

func (s ScopePeriod) program() (program, error) {
	return singleValue("scope period", "PULS:SPER", QueryScopePeriod, s.Seconds, ScopePeriods)
}

func powerRanges(voltage, current, vRange, cRange float64) (float64, float64, error) {
	vr, err := resolveRange("power voltage", voltage, vRange, UnitVolt, MaxVoltage, VoltageRanges, false)
	if err != nil {
		return 0, 0, err
	}
	cr, err := resolveRange("power current", current, cRange, UnitAmpere, MaxCurrent, PowerCurrentRanges, false)
	if err != nil {
		return 0, 0, err
	}
	return vr, cr, nil
}

// DCPower sources a DC voltage and current pair for wattmeter calibration.
// Programming it turns the output off first.
type DCPower struct {
	Voltage float64
	Current float64
	// VoltageRange and CurrentRange are selected automatically when zero.
	VoltageRange float64
	CurrentRange float64
}

func (s DCPower) Function() Function { return FunctionDCPower }
func (s DCPower) Validate() error    { _, err := s.program(); return err }

func (s DCPower) String() string {
	return fmt.Sprintf("DC power %s, %s", Reading{Value: s.Voltage, Unit: UnitVolt}, Reading{Value: s.Current, Unit: UnitAmpere})
}

func (s DCPower) Spec() SettingSpec {
	return SettingSpec{
		Function:     FunctionDCPower,
		Range:        s.VoltageRange,
		Value:        s.Voltage,
		Current:      s.Current,
		CurrentRange: s.CurrentRange,
	}
}

func (s DCPower) program() (program, error) {
	vr, cr, err := powerRanges(s.Voltage, s.Current, s.VoltageRange, s.CurrentRange)
	if err != nil {
		return program{}, err
	}
	return program{
		disableFirst: true,
		commands: []string{
			"FUNC DC",
			"POW:RANG " + formatNumber(vr) + "," + formatNumber(cr),
			"POW " + formatNumber(s.Voltage) + "," + formatNumber(s.Current),
		},
		echoes: []echoCheck{
			{query: QueryPowerParameters, index: 0, want: s.Voltage, scale: vr},
			{query: QueryPowerParameters, index: 1, want: s.Current, scale: cr},
		},
	}, nil
}

// ACPower sources a sine voltage and current pair with a phase offset.
// Positive phase means current leads voltage. Programming it turns the output
// off first.
type ACPower struct {
	Voltage float64
	Current float64
	// Frequency defaults to DefaultPowerFrequency when zero.
	Frequency    float64
	Phase        float64
	VoltageRange float64
	CurrentRange float64
}

func (s ACPower) Function() Function { return FunctionACPower }
func (s ACPower) Validate() error    { _, err := s.program(); return err }

func (s ACPower) String() string {
	return fmt.Sprintf("AC power %s, %s @ %s, %s", Reading{Value: s.Voltage, Unit: UnitVolt},
		Reading{Value: s.Current, Unit: UnitAmpere}, Reading{Value: s.frequency(), Unit: UnitHertz},
		Reading{Value: s.Phase, Unit: UnitDegree})
}

func (s ACPower) Spec() SettingSpec {
	return SettingSpec{
		Function:     FunctionACPower,
		Range:        s.VoltageRange,
		Value:        s.Voltage,
		Current:      s.Current,
		CurrentRange: s.CurrentRange,
		Frequency:    s.Frequency,
		Phase:        s.Phase,
	}
}

func (s ACPower) frequency() float64 {
	if s.Frequency == 0 {
		return DefaultPowerFrequency
	}
	return s.Frequency
}

func (s ACPower) program() (program, error) {
	vr, cr, err := powerRanges(s.Voltage, s.Current, s.VoltageRange, s.CurrentRange)
	if err != nil {
		return program{}, err
	}
	if !finite(s.Phase) || math.Abs(s.Phase) > MaxPhase {
		return program{}, outOfRange("phase", s.Phase, UnitDegree, "must be in [-90, 90]")
	}
	f := s.frequency()
	if !finite(f) || f < MinPowerFrequency || f > MaxPowerFrequency {
		return program{}, outOfRange("power frequency", f, UnitHertz, "must be in [45 Hz, 400 Hz]")
	}
	return program{
		disableFirst: true,
		commands: []string{
			"FUNC SIN",
			"POW:RANG " + formatNumber(vr) + "," + formatNumber(cr),
			"POW " + formatNumber(s.Voltage) + "," + formatNumber(s.Current),
			"UNIT:PHAS DEG",
			"POW:PHASE " + formatNumber(s.Phase),
			"FREQ " + formatNumber(f),
		},
		echoes: []echoCheck{
			{query: QueryPowerParameters, index: 0, want: s.Voltage, scale: vr},
			{query: QueryPowerParameters, index: 1, want: s.Current, scale: cr},
			{query: QueryPowerPhase, want: s.Phase, scale: MaxPhase},
			{query: QueryFrequency, want: f, scale: f},
		},
	}, nil
}
