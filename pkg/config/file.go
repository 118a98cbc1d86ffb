package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Address:            ptr.To("GPIB0::25::INSTR"),
		TimeoutMillis:      ptr.To(10000),
		CommandDelayMillis: ptr.To(50),
		ReadTermination:    ptr.To("\r\n"),
		WriteTermination:   ptr.To("\r\n"),
		GPIBGateway:        ptr.To(""),
		BaudRate:           ptr.To(9600),
		ExpectedModels:     []string{"5025"},
		Simulate:           ptr.To(false),
		Schedule:           ptr.To(""),
		ScheduleSequence:   ptr.To(""),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the JSON layout of the config file. Unset fields take
// their defaults.
type RawFileConfig struct {
	Address            *string  `json:"address,omitempty"`
	TimeoutMillis      *int     `json:"timeoutMillis,omitempty"`
	CommandDelayMillis *int     `json:"commandDelayMillis,omitempty"`
	ReadTermination    *string  `json:"readTermination,omitempty"`
	WriteTermination   *string  `json:"writeTermination,omitempty"`
	GPIBGateway        *string  `json:"gpibGateway,omitempty"`
	BaudRate           *int     `json:"baudRate,omitempty"`
	ExpectedModels     []string `json:"expectedModels,omitempty"`
	Simulate           *bool    `json:"simulate,omitempty"`
	Schedule           *string  `json:"schedule,omitempty"`
	ScheduleSequence   *string  `json:"scheduleSequence,omitempty"`
	AllowNonRootAccess *bool    `json:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Address:            ptr.To(c.Address()),
		TimeoutMillis:      ptr.To(int(c.Timeout().Milliseconds())),
		CommandDelayMillis: ptr.To(int(c.CommandDelay().Milliseconds())),
		ReadTermination:    ptr.To(c.ReadTermination()),
		WriteTermination:   ptr.To(c.WriteTermination()),
		GPIBGateway:        ptr.To(c.GPIBGateway()),
		BaudRate:           ptr.To(c.BaudRate()),
		ExpectedModels:     c.ExpectedModels(),
		Simulate:           ptr.To(c.Simulate()),
		Schedule:           ptr.To(c.Schedule()),
		ScheduleSequence:   ptr.To(c.ScheduleSequence()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// read returns the field chosen by pick, falling back to the default.
func read[T any](f *File, pick func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(pick(f.c), *pick(defaultFileConfig))
}

func write[T any](f *File, v T, set func(*RawFileConfig, *T)) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	set(f.c, &v)
}

func (f *File) Address() string {
	return read(f, func(c *RawFileConfig) *string { return c.Address })
}

func (f *File) Timeout() time.Duration {
	ms := read(f, func(c *RawFileConfig) *int { return c.TimeoutMillis })
	if ms <= 0 {
		ms = *defaultFileConfig.TimeoutMillis
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) CommandDelay() time.Duration {
	ms := read(f, func(c *RawFileConfig) *int { return c.CommandDelayMillis })
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) ReadTermination() string {
	return read(f, func(c *RawFileConfig) *string { return c.ReadTermination })
}

func (f *File) WriteTermination() string {
	return read(f, func(c *RawFileConfig) *string { return c.WriteTermination })
}

func (f *File) GPIBGateway() string {
	return read(f, func(c *RawFileConfig) *string { return c.GPIBGateway })
}

func (f *File) BaudRate() int {
	return read(f, func(c *RawFileConfig) *int { return c.BaudRate })
}

func (f *File) ExpectedModels() []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	models := f.c.ExpectedModels
	if len(models) == 0 {
		models = defaultFileConfig.ExpectedModels
	}

	return append([]string(nil), models...)
}

func (f *File) Simulate() bool {
	return read(f, func(c *RawFileConfig) *bool { return c.Simulate })
}

func (f *File) Schedule() string {
	return read(f, func(c *RawFileConfig) *string { return c.Schedule })
}

func (f *File) ScheduleSequence() string {
	return read(f, func(c *RawFileConfig) *string { return c.ScheduleSequence })
}

func (f *File) AllowNonRootAccess() bool {
	return read(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetAddress(s string) {
	write(f, s, func(c *RawFileConfig, v *string) { c.Address = v })
}

func (f *File) SetTimeout(d time.Duration) {
	if d <= 0 {
		panic("timeout must be positive")
	}

	write(f, int(d.Milliseconds()), func(c *RawFileConfig, v *int) { c.TimeoutMillis = v })
}

func (f *File) SetCommandDelay(d time.Duration) {
	if d < 0 {
		panic("command delay must not be negative")
	}

	write(f, int(d.Milliseconds()), func(c *RawFileConfig, v *int) { c.CommandDelayMillis = v })
}

func (f *File) SetGPIBGateway(s string) {
	write(f, s, func(c *RawFileConfig, v *string) { c.GPIBGateway = v })
}

func (f *File) SetSimulate(b bool) {
	write(f, b, func(c *RawFileConfig, v *bool) { c.Simulate = v })
}

func (f *File) SetSchedule(s string) {
	write(f, s, func(c *RawFileConfig, v *string) { c.Schedule = v })
}

func (f *File) SetScheduleSequence(s string) {
	write(f, s, func(c *RawFileConfig, v *string) { c.ScheduleSequence = v })
}

func (f *File) SetAllowNonRootAccess(b bool) {
	write(f, b, func(c *RawFileConfig, v *bool) { c.AllowNonRootAccess = v })
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"address":            f.Address(),
		"timeout":            f.Timeout(),
		"commandDelay":       f.CommandDelay(),
		"readTermination":    f.ReadTermination(),
		"writeTermination":   f.WriteTermination(),
		"gpibGateway":        f.GPIBGateway(),
		"baudRate":           f.BaudRate(),
		"expectedModels":     f.ExpectedModels(),
		"simulate":           f.Simulate(),
		"schedule":           f.Schedule(),
		"scheduleSequence":   f.ScheduleSequence(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
