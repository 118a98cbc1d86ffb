package te5025

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxDrainedErrors bounds DrainErrors on an instrument whose queue never
// reports empty.
const maxDrainedErrors = 64

// PowerUnit selects how POW:POW? reports power.
type PowerUnit string

const (
	PowerWatt       PowerUnit = "WATT"
	PowerVoltAmpere PowerUnit = "VA"
)

// ParsePowerUnit accepts "W", "WATT" or "VA" in any case.
func ParsePowerUnit(s string) (PowerUnit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "W", "WATT":
		return PowerWatt, nil
	case "VA":
		return PowerVoltAmpere, nil
	}
	return "", fmt.Errorf("unknown power unit %q, want W or VA", s)
}

func (u PowerUnit) unit() Unit {
	if u == PowerVoltAmpere {
		return UnitVoltAmpere
	}
	return UnitWatt
}

// PowerParameters is the programmed power output. Frequency and Phase are
// only set for AC power.
type PowerParameters struct {
	Voltage   Reading  `json:"voltage"`
	Current   Reading  `json:"current"`
	Frequency *Reading `json:"frequency,omitempty"`
	Phase     *Reading `json:"phase,omitempty"`
}

// Status is a snapshot of the calibrator.
type Status struct {
	Address       string   `json:"address"`
	Identity      Identity `json:"identity"`
	Function      string   `json:"function"`
	OutputEnabled bool     `json:"outputEnabled"`
	ErrorCount    int      `json:"errorCount"`
	Temperature   Reading  `json:"temperature"`
}

func (s *Session) reading(ctx context.Context, q Query) (Reading, error) {
	resp, err := s.Query(ctx, q)
	if err != nil {
		return Reading{}, err
	}
	return resp.Reading(), nil
}

// Identify re-reads *IDN?.
func (s *Session) Identify(ctx context.Context) (Identity, error) {
	resp, err := s.Query(ctx, QueryIdentity)
	if err != nil {
		return Identity{}, err
	}
	return *resp.Identity, nil
}

// Function returns the active function as the instrument names it, e.g. DC
// or SIN.
func (s *Session) Function(ctx context.Context) (string, error) {
	resp, err := s.Query(ctx, QueryFunction)
	if err != nil {
		return "", err
	}
	return resp.Word, nil
}

// OutputEnabled asks the instrument whether the output is on and updates the
// local interlock state.
func (s *Session) OutputEnabled(ctx context.Context) (bool, error) {
	logrus.Tracef("OutputEnabled called")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return false, err
	}

	resp, err := s.query(ctx, QueryOutput)
	if err != nil {
		return false, err
	}
	s.observeOutput(resp.Bool)

	return resp.Bool, nil
}

func (s *Session) VoltageRange(ctx context.Context) (Reading, error) {
	return s.reading(ctx, QueryVoltageRange)
}

func (s *Session) VoltageAmplitude(ctx context.Context) (Reading, error) {
	return s.reading(ctx, QueryVoltage)
}

func (s *Session) CurrentRange(ctx context.Context) (Reading, error) {
	return s.reading(ctx, QueryCurrentRange)
}

func (s *Session) CurrentAmplitude(ctx context.Context) (Reading, error) {
	return s.reading(ctx, QueryCurrent)
}

func (s *Session) Frequency(ctx context.Context) (Reading, error) {
	return s.reading(ctx, QueryFrequency)
}

// InternalTemperature returns the calibrator's internal temperature in
// Celsius.
func (s *Session) InternalTemperature(ctx context.Context) (Reading, error) {
	logrus.Tracef("InternalTemperature called")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return Reading{}, err
	}
	if err := s.send(ctx, "UNIT:TEMP C"); err != nil {
		return Reading{}, err
	}

	resp, err := s.query(ctx, QueryTemperature)
	if err != nil {
		return Reading{}, err
	}
	return resp.Reading(), nil
}

// Power returns the output power of the active power function in unit.
func (s *Session) Power(ctx context.Context, unit PowerUnit) (Reading, error) {
	logrus.Tracef("Power called with %s", unit)

	if unit != PowerWatt && unit != PowerVoltAmpere {
		return Reading{}, &RangeError{Quantity: "power unit", Reason: fmt.Sprintf("unknown power unit %q", unit)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return Reading{}, err
	}
	if err := s.send(ctx, "UNIT:POW "+string(unit)); err != nil {
		return Reading{}, err
	}

	q := QueryPower
	q.units[0] = unit.unit()
	resp, err := s.query(ctx, q)
	if err != nil {
		return Reading{}, err
	}

	return resp.Reading(), nil
}

// PowerParameters reads back the programmed power output.
func (s *Session) PowerParameters(ctx context.Context) (PowerParameters, error) {
	logrus.Tracef("PowerParameters called")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return PowerParameters{}, err
	}

	fn, err := s.query(ctx, QueryFunction)
	if err != nil {
		return PowerParameters{}, err
	}
	pair, err := s.query(ctx, QueryPowerParameters)
	if err != nil {
		return PowerParameters{}, err
	}
	ret := PowerParameters{Voltage: pair.Readings[0], Current: pair.Readings[1]}

	if fn.Word != "SIN" {
		return ret, nil
	}

	freq, err := s.query(ctx, QueryFrequency)
	if err != nil {
		return PowerParameters{}, err
	}
	phase, err := s.query(ctx, QueryPowerPhase)
	if err != nil {
		return PowerParameters{}, err
	}
	f, p := freq.Reading(), phase.Reading()
	ret.Frequency, ret.Phase = &f, &p

	return ret, nil
}

// ErrorCount returns the number of entries in the error queue.
func (s *Session) ErrorCount(ctx context.Context) (int, error) {
	resp, err := s.Query(ctx, QueryErrorCount)
	if err != nil {
		return 0, err
	}
	return resp.Integer, nil
}

// NextError pops one entry off the error queue. Code 0 means it was empty.
func (s *Session) NextError(ctx context.Context) (ErrorEntry, error) {
	resp, err := s.Query(ctx, QueryError)
	if err != nil {
		return ErrorEntry{}, err
	}
	return *resp.Error, nil
}

// DrainErrors pops entries until the queue reports empty.
func (s *Session) DrainErrors(ctx context.Context) ([]ErrorEntry, error) {
	logrus.Tracef("DrainErrors called")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var ret []ErrorEntry
	for i := 0; i < maxDrainedErrors; i++ {
		e, err := s.nextError(ctx)
		if err != nil {
			return ret, err
		}
		if e.Code == 0 {
			break
		}
		ret = append(ret, e)
	}

	return ret, nil
}

// ClearErrors empties the error queue.
func (s *Session) ClearErrors(ctx context.Context) error {
	logrus.Tracef("ClearErrors called")
	return s.command(ctx, "*CLS")
}

// SetRemote locks the front panel.
func (s *Session) SetRemote(ctx context.Context) error {
	logrus.Tracef("SetRemote called")
	return s.command(ctx, "SYST:REM")
}

// SetLocal returns the instrument to front panel control.
func (s *Session) SetLocal(ctx context.Context) error {
	logrus.Tracef("SetLocal called")
	return s.command(ctx, "SYST:LOC")
}

// Status reads a snapshot of the instrument state.
func (s *Session) Status(ctx context.Context) (Status, error) {
	logrus.Tracef("Status called")

	ret := Status{Address: s.address, Identity: s.identity}

	fn, err := s.Function(ctx)
	if err != nil {
		return ret, err
	}
	ret.Function = fn

	if ret.OutputEnabled, err = s.OutputEnabled(ctx); err != nil {
		return ret, err
	}
	if ret.ErrorCount, err = s.ErrorCount(ctx); err != nil {
		return ret, err
	}
	if ret.Temperature, err = s.InternalTemperature(ctx); err != nil {
		return ret, err
	}

	return ret, nil
}
