package config

import (
	"github.com/charlie0129/te5025/pkg/te5025"
)

// SessionOptions builds the session and transport options c describes.
// Simulate is left to the caller, which owns the simulator.
func SessionOptions(c Config) te5025.Options {
	opts := te5025.DefaultOptions()
	opts.Timeout = c.Timeout()
	opts.CommandDelay = c.CommandDelay()
	opts.ExpectedModels = c.ExpectedModels()
	opts.Transport.ReadTermination = c.ReadTermination()
	opts.Transport.WriteTermination = c.WriteTermination()
	opts.Transport.GPIBGateway = c.GPIBGateway()
	opts.Transport.BaudRate = c.BaudRate()
	return opts
}
