package te5025

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		setting OutputSetting
	}{
		{"DC voltage above limit", DCVoltage{Amplitude: 1050.5}},
		{"DC voltage below negative limit", DCVoltage{Amplitude: -1051}},
		{"DC voltage NaN", DCVoltage{Amplitude: math.NaN()}},
		{"DC voltage over 110% of range", DCVoltage{Range: 20, Amplitude: 22.5}},
		{"DC voltage unknown range", DCVoltage{Range: 10, Amplitude: 5}},
		{"AC voltage negative", ACVoltage{Amplitude: -1, Frequency: 50}},
		{"AC voltage zero frequency", ACVoltage{Amplitude: 1, Frequency: 0}},
		{"AC voltage frequency above 20 kHz", ACVoltage{Amplitude: 1, Frequency: 20001}},
		{"DC current above limit", DCCurrent{Amplitude: 22.01}},
		{"DC current infinite", DCCurrent{Amplitude: math.Inf(1)}},
		{"DC current over 110% of range", DCCurrent{Range: 0.2, Amplitude: 0.3}},
		{"AC current negative", ACCurrent{Amplitude: -0.1, Frequency: 50}},
		{"resistance not a decade", Resistance{Ohms: 50}},
		{"arbitrary resistance above 40 MOhm", ArbitraryResistance{Ohms: 40e6 + 1}},
		{"arbitrary resistance negative", ArbitraryResistance{Ohms: -1}},
		{"capacitance not in table", Capacitance{Farads: 2e-9}},
		{"inductance not in table", Inductance{Henries: 2}},
		{"conductance not in table", Conductance{Siemens: 2}},
		{"RTD below Celsius limit", RTD{Temperature: -181}},
		{"RTD above Kelvin limit", RTD{Temperature: 1124, Scale: ScaleKelvin}},
		{"RTD unknown scale", RTD{Temperature: 20, Scale: "R"}},
		{"thermocouple T above 400", Thermocouple{Type: "T", Temperature: 401}},
		{"thermocouple unknown type", Thermocouple{Type: "X", Temperature: 20}},
		{"scope frequency off the 1-2-5 steps", ScopeFrequency{Hertz: 3}},
		{"scope period off the 1-2-5 steps", ScopePeriod{Seconds: 3e-3}},
		{"DC power voltage above limit", DCPower{Voltage: 1100, Current: 1}},
		{"DC power current above limit", DCPower{Voltage: 10, Current: 23}},
		{"DC power negative current", DCPower{Voltage: 10, Current: -1}},
		{"DC power invalid current range", DCPower{Voltage: 10, Current: 1, CurrentRange: 0.2}},
		{"AC power phase out of range", ACPower{Voltage: 230, Current: 5, Phase: 91}},
		{"AC power frequency below 45 Hz", ACPower{Voltage: 230, Current: 5, Frequency: 44}},
		{"AC power frequency above 400 Hz", ACPower{Voltage: 230, Current: 5, Frequency: 401}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setting.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRange), "got %v", err)

			var rerr *RangeError
			assert.ErrorAs(t, err, &rerr)
		})
	}
}

func TestSettingValidateAccepts(t *testing.T) {
	for _, s := range []OutputSetting{
		DCVoltage{Amplitude: 1050},
		DCVoltage{Amplitude: -1050},
		DCVoltage{Range: 0.02, Amplitude: 0.021},
		ACVoltage{Amplitude: 230, Frequency: 50},
		DCCurrent{Amplitude: -22},
		ACCurrent{Range: 2, Amplitude: 1.5, Frequency: 20e3},
		Resistance{Ohms: 0},
		Resistance{Ohms: 1e9},
		ArbitraryResistance{Ohms: 1234.5},
		Capacitance{Farads: 100e-9},
		Inductance{Henries: 1.9e-3},
		Conductance{Siemens: 1e-3},
		RTD{Temperature: 850},
		RTD{Temperature: -292, Scale: ScaleFahrenheit},
		Thermocouple{Temperature: 1250},
		Thermocouple{Type: "B", Temperature: 100},
		ScopeFrequency{Hertz: 1e8},
		ScopePeriod{Seconds: 20e-9},
		DCPower{Voltage: 10, Current: 1},
		ACPower{Voltage: 230, Current: 5, Phase: -90},
	} {
		assert.NoError(t, s.Validate(), "%s", s)
	}
}

func TestAutoRange(t *testing.T) {
	tests := []struct {
		amplitude float64
		want      string
	}{
		{0.021, "VOLT:RANG 0.02"},
		{0.0221, "VOLT:RANG 0.2"},
		{-5, "VOLT:RANG 20"},
		{22, "VOLT:RANG 20"},
		{22.1, "VOLT:RANG 200"},
		{1050, "VOLT:RANG 1000"},
	}

	for _, tt := range tests {
		p, err := DCVoltage{Amplitude: tt.amplitude}.program()
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.commands[1], "amplitude %g", tt.amplitude)
	}
}

func TestSettingCommands(t *testing.T) {
	tests := []struct {
		setting OutputSetting
		want    []string
	}{
		{DCVoltage{Range: 20, Amplitude: 10}, []string{"FUNC DC", "VOLT:RANG 20", "VOLT:AMPL 10"}},
		{ACVoltage{Range: 200, Amplitude: 115, Frequency: 400}, []string{"FUNC SIN", "FREQ 400", "VOLT:RANG 200", "VOLT:AMPL 115"}},
		{DCCurrent{Range: 2e-3, Amplitude: -1e-3}, []string{"FUNC DC", "CURR:RANG 0.002", "CURR:AMPL -0.001"}},
		{Resistance{Ohms: 1e4}, []string{"RES 10000"}},
		{Capacitance{Farads: 1e-9}, []string{"CAP 0.000000001"}},
		{RTD{Temperature: 100, Scale: ScaleKelvin}, []string{"RTD 100K"}},
		{Thermocouple{Type: "J", Temperature: -20.5}, []string{"THER:TYPE J", "THER -20.5"}},
		{ScopePeriod{Seconds: 0.5}, []string{"PULS:SPER 0.5"}},
		{DCPower{Voltage: 10, Current: 1}, []string{"FUNC DC", "POW:RANG 20,2", "POW 10,1"}},
		{
			ACPower{Voltage: 230, Current: 5, Phase: 30},
			[]string{"FUNC SIN", "POW:RANG 1000,20", "POW 230,5", "UNIT:PHAS DEG", "POW:PHASE 30", "FREQ 50"},
		},
	}

	for _, tt := range tests {
		p, err := tt.setting.program()
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.commands, "%s", tt.setting)
	}
}

func TestPowerSettingsDisableFirst(t *testing.T) {
	for _, s := range []OutputSetting{DCPower{Voltage: 1, Current: 1}, ACPower{Voltage: 1, Current: 1}} {
		p, err := s.program()
		require.NoError(t, err)
		assert.True(t, p.disableFirst, "%s", s)
	}

	p, err := DCVoltage{Amplitude: 1}.program()
	require.NoError(t, err)
	assert.False(t, p.disableFirst)
}

func TestSpecRoundTrip(t *testing.T) {
	for _, s := range []OutputSetting{
		DCVoltage{Range: 20, Amplitude: 10},
		ACVoltage{Amplitude: 1, Frequency: 1e3},
		DCCurrent{Amplitude: 0.5},
		ACCurrent{Range: 0.2, Amplitude: 0.1, Frequency: 60},
		Resistance{Ohms: 100},
		ArbitraryResistance{Ohms: 4.7e3},
		Capacitance{Farads: 1e-6},
		Inductance{Henries: 0.19},
		Conductance{Siemens: 1e-6},
		RTD{Temperature: 0, Scale: ScaleCelsius},
		Thermocouple{Type: "K", Temperature: 300},
		ScopeFrequency{Hertz: 1e3},
		ScopePeriod{Seconds: 1e-3},
		DCPower{Voltage: 100, Current: 10, VoltageRange: 200, CurrentRange: 20},
		ACPower{Voltage: 230, Current: 5, Frequency: 60, Phase: -30},
	} {
		spec := s.Spec()
		assert.Equal(t, s.Function(), spec.Function)

		back, err := spec.Setting()
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
}

func TestSpecSettingErrors(t *testing.T) {
	_, err := SettingSpec{Function: "warp"}.Setting()
	assert.Error(t, err)

	_, err = SettingSpec{Function: FunctionRTD, Scale: "R"}.Setting()
	assert.Error(t, err)

	_, err = SettingSpec{Function: FunctionThermocouple, Type: "Q"}.Setting()
	assert.Error(t, err)

	s, err := SettingSpec{Function: "DCV", Value: 3}.Setting()
	require.NoError(t, err)
	assert.Equal(t, DCVoltage{Amplitude: 3}, s)
}

func TestEchoTolerance(t *testing.T) {
	c := echoCheck{query: QueryVoltage, want: 10, scale: 20}
	assert.True(t, c.matches(Response{Readings: []Reading{{Value: 10.0001}}}))
	assert.False(t, c.matches(Response{Readings: []Reading{{Value: 10.01}}}))
	assert.False(t, c.matches(Response{}))

	w := echoCheck{query: QueryThermocoupleType, word: "K"}
	assert.True(t, w.matches(Response{Word: "K"}))
	assert.False(t, w.matches(Response{Word: "J"}))
}
