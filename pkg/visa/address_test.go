package visa

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	ttyS2 := "/dev/ttyS2"
	if runtime.GOOS == "windows" {
		ttyS2 = "COM3"
	}

	tests := []struct {
		name string
		in   string
		want Address
		str  string
	}{
		{
			name: "tcpip socket",
			in:   "TCPIP0::192.168.1.20::5025::SOCKET",
			want: Address{Interface: InterfaceTCPIP, Host: "192.168.1.20", Port: 5025},
			str:  "TCPIP0::192.168.1.20::5025::SOCKET",
		},
		{
			name: "tcpip without board, lower case",
			in:   "tcpip::cal.lab::4001::socket",
			want: Address{Interface: InterfaceTCPIP, Host: "cal.lab", Port: 4001},
			str:  "TCPIP0::cal.lab::4001::SOCKET",
		},
		{
			name: "serial by number",
			in:   "ASRL3::INSTR",
			want: Address{Interface: InterfaceSerial, Board: 3, Device: ttyS2},
			str:  "ASRL3::INSTR",
		},
		{
			name: "serial by path",
			in:   "ASRL/dev/ttyUSB0::INSTR",
			want: Address{Interface: InterfaceSerial, Device: "/dev/ttyUSB0"},
			str:  "ASRL/dev/ttyUSB0::INSTR",
		},
		{
			name: "gpib primary",
			in:   "GPIB0::25::INSTR",
			want: Address{Interface: InterfaceGPIB, Primary: 25},
			str:  "GPIB0::25::INSTR",
		},
		{
			name: "gpib secondary",
			in:   "GPIB1::4::96::INSTR",
			want: Address{Interface: InterfaceGPIB, Board: 1, Primary: 4, Secondary: 96, HasSecondary: true},
			str:  "GPIB1::4::96::INSTR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}
}

func TestParseAddressInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"GPIB0",
		"USB0::0x1234::0x5678::INSTR",
		"TCPIP0::host::SOCKET",
		"TCPIP0::host::99999::SOCKET",
		"TCPIP0::::5025::SOCKET",
		"TCPIPx::host::5025::SOCKET",
		"ASRL0::INSTR",
		"ASRL::INSTR",
		"GPIB0::31::INSTR",
		"GPIB0::5::12::INSTR",
		"GPIB0::5",
	} {
		_, err := ParseAddress(in)
		assert.Truef(t, errors.Is(err, ErrInvalidAddress), "%q: got %v", in, err)
	}
}
