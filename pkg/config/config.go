package config

import "time"

// Config is the daemon configuration.
type Config interface {
	// Address is the VISA resource string of the calibrator.
	Address() string
	Timeout() time.Duration
	CommandDelay() time.Duration
	ReadTermination() string
	WriteTermination() string
	GPIBGateway() string
	BaudRate() int
	ExpectedModels() []string
	// Simulate makes the daemon talk to the built-in simulator instead of
	// opening Address.
	Simulate() bool
	// Schedule is a cron expression. Empty disables scheduled runs.
	Schedule() string
	// ScheduleSequence is the sequence file run on Schedule.
	ScheduleSequence() string
	AllowNonRootAccess() bool

	SetAddress(string)
	SetTimeout(time.Duration)
	SetCommandDelay(time.Duration)
	SetGPIBGateway(string)
	SetSimulate(bool)
	SetSchedule(string)
	SetScheduleSequence(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
