package visa

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.bug.st/serial"
)

// serialStream adapts a serial port to stream using its read timeout.
type serialStream struct {
	serial.Port
}

func openSerial(device string, baudRate int) (*serialStream, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", device)
	}
	return &serialStream{Port: port}, nil
}

func (s *serialStream) readSome(p []byte, d time.Duration) (int, error) {
	if err := s.SetReadTimeout(d); err != nil {
		return 0, err
	}
	// A read timeout yields 0, nil.
	return s.Read(p)
}

// ListResources returns the serial ports present on this machine as ASRL
// resource strings. GPIB and LAN instruments cannot be discovered this way.
func ListResources() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list serial ports")
	}

	ret := make([]string, 0, len(ports))
	for _, p := range ports {
		ret = append(ret, Address{Interface: InterfaceSerial, Device: p}.String())
	}
	return ret, nil
}
