package te5025

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "20", want: 20},
		{in: "-2.5e-3", want: -2.5e-3},
		{in: "200mV", want: 0.2},
		{in: "200 mV", want: 0.2},
		{in: "1.5k", want: 1500},
		{in: "10 MOhm", want: 10e6},
		{in: "100uF", want: 100e-6},
		{in: "100µF", want: 100e-6},
		{in: "1G", want: 1e9},
		{in: "5V", want: 5},
		{in: "20 A", want: 20},
		{in: "1e3Hz", want: 1e3},
		{in: "300 K", want: 300},
		{in: "300K", want: 300},
		{in: "1.5KOhm", want: 1500},
		{in: "", wantErr: true},
		{in: "volts", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "10 V!", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseQuantity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		if assert.NoError(t, err, "input %q", tt.in) {
			assert.InDelta(t, tt.want, got, 1e-12*max(1, tt.want), "input %q", tt.in)
		}
	}
}

func TestReadingString(t *testing.T) {
	tests := []struct {
		r    Reading
		want string
	}{
		{Reading{Value: 0.2, Unit: UnitVolt}, "200 mV"},
		{Reading{Value: 10e6, Unit: UnitOhm}, "10 MΩ"},
		{Reading{Value: -1e-3, Unit: UnitAmpere}, "-1 mA"},
		{Reading{Value: 1050, Unit: UnitVolt}, "1.05 kV"},
		{Reading{Value: 0, Unit: UnitVolt}, "0 V"},
		{Reading{Value: 100, Unit: UnitCelsius}, "100 °C"},
		{Reading{Value: 3, Unit: UnitNone}, "3"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.r.String())
	}
}
