package visa

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Interface is the hardware interface type of a resource.
type Interface string

const (
	InterfaceTCPIP  Interface = "TCPIP"
	InterfaceSerial Interface = "ASRL"
	InterfaceGPIB   Interface = "GPIB"
)

// Address is a parsed VISA resource string.
//
// Supported forms:
//
//	TCPIP[board]::host::port::SOCKET
//	ASRL<n>::INSTR
//	ASRL<device path>::INSTR
//	GPIB[board]::<primary>[::<secondary>]::INSTR
type Address struct {
	Interface Interface
	Board     int

	// TCPIP
	Host string
	Port int

	// ASRL
	Device string

	// GPIB
	Primary      int
	Secondary    int
	HasSecondary bool
}

// ParseAddress parses a VISA resource string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "::")
	if len(parts) < 2 {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q", s)
	}

	head := parts[0]
	upper := strings.ToUpper(head)
	switch {
	case strings.HasPrefix(upper, string(InterfaceTCPIP)):
		return parseTCPIP(s, head[len(InterfaceTCPIP):], parts[1:])
	case strings.HasPrefix(upper, string(InterfaceSerial)):
		return parseSerial(s, head[len(InterfaceSerial):], parts[1:])
	case strings.HasPrefix(upper, string(InterfaceGPIB)):
		return parseGPIB(s, head[len(InterfaceGPIB):], parts[1:])
	}

	return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: unknown interface type", s)
}

func parseBoard(raw, board string) (int, error) {
	if board == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(board)
	if err != nil || n < 0 {
		return 0, pkgerrors.Wrapf(ErrInvalidAddress, "%q: bad board number %q", raw, board)
	}
	return n, nil
}

func parseTCPIP(raw, board string, rest []string) (Address, error) {
	b, err := parseBoard(raw, board)
	if err != nil {
		return Address{}, err
	}
	if len(rest) != 3 || !strings.EqualFold(rest[2], "SOCKET") {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: expected TCPIP::host::port::SOCKET", raw)
	}
	if rest[0] == "" {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: empty host", raw)
	}
	port, err := strconv.Atoi(rest[1])
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: bad port %q", raw, rest[1])
	}

	return Address{
		Interface: InterfaceTCPIP,
		Board:     b,
		Host:      rest[0],
		Port:      port,
	}, nil
}

func parseSerial(raw, device string, rest []string) (Address, error) {
	if len(rest) != 1 || !strings.EqualFold(rest[0], "INSTR") {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: expected ASRL<port>::INSTR", raw)
	}
	if device == "" {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: empty serial port", raw)
	}

	addr := Address{Interface: InterfaceSerial}
	if n, err := strconv.Atoi(device); err == nil {
		if n < 1 {
			return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: serial port numbers start at 1", raw)
		}
		addr.Board = n
		addr.Device = serialDeviceName(n)
		return addr, nil
	}

	addr.Device = device
	return addr, nil
}

// serialDeviceName maps ASRL<n> to the platform device, the same way NI-VISA does.
func serialDeviceName(n int) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("COM%d", n)
	}
	return fmt.Sprintf("/dev/ttyS%d", n-1)
}

func parseGPIB(raw, board string, rest []string) (Address, error) {
	b, err := parseBoard(raw, board)
	if err != nil {
		return Address{}, err
	}
	if len(rest) < 2 || len(rest) > 3 || !strings.EqualFold(rest[len(rest)-1], "INSTR") {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: expected GPIB::primary[::secondary]::INSTR", raw)
	}

	primary, err := strconv.Atoi(rest[0])
	if err != nil || primary < 0 || primary > 30 {
		return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: primary address must be 0-30", raw)
	}

	addr := Address{
		Interface: InterfaceGPIB,
		Board:     b,
		Primary:   primary,
	}

	if len(rest) == 3 {
		secondary, err := strconv.Atoi(rest[1])
		if err != nil || secondary < 96 || secondary > 126 {
			return Address{}, pkgerrors.Wrapf(ErrInvalidAddress, "%q: secondary address must be 96-126", raw)
		}
		addr.Secondary = secondary
		addr.HasSecondary = true
	}

	return addr, nil
}

// String formats the address back into its canonical resource string.
func (a Address) String() string {
	switch a.Interface {
	case InterfaceTCPIP:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", a.Board, a.Host, a.Port)
	case InterfaceSerial:
		if a.Board > 0 {
			return fmt.Sprintf("ASRL%d::INSTR", a.Board)
		}
		return fmt.Sprintf("ASRL%s::INSTR", a.Device)
	case InterfaceGPIB:
		if a.HasSecondary {
			return fmt.Sprintf("GPIB%d::%d::%d::INSTR", a.Board, a.Primary, a.Secondary)
		}
		return fmt.Sprintf("GPIB%d::%d::INSTR", a.Board, a.Primary)
	}
	return ""
}
