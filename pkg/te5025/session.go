package te5025

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/visa"
)

// OpenFunc opens a transport resource.
type OpenFunc func(ctx context.Context, address string, opts visa.Options) (visa.Resource, error)

// Options configures a Session.
type Options struct {
	// Timeout bounds the read phase of every exchange. Zero means 10s.
	Timeout time.Duration
	// CommandDelay is waited after every command. Zero means no delay.
	CommandDelay time.Duration
	// ExpectedModels are the accepted model prefixes in the *IDN? reply.
	// Empty means {"5025"}.
	ExpectedModels []string
	Transport      visa.Options
	// Open replaces visa.Open, mostly for tests and the simulator.
	Open OpenFunc
	// OnOutputChange is called whenever the confirmed output state changes.
	// It runs with the session locked and must not call back into it.
	OnOutputChange func(enabled bool)
}

const (
	DefaultTimeout      = 10 * time.Second
	DefaultCommandDelay = 50 * time.Millisecond
	DefaultModel        = "5025"
)

// DefaultOptions returns the options of a stock 5025 link.
func DefaultOptions() Options {
	return Options{
		Timeout:        DefaultTimeout,
		CommandDelay:   DefaultCommandDelay,
		ExpectedModels: []string{DefaultModel},
		Transport:      visa.DefaultOptions(),
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if len(o.ExpectedModels) == 0 {
		o.ExpectedModels = []string{DefaultModel}
	}
	if o.Open == nil {
		o.Open = visa.Open
	}
	return o
}

// Session is an open connection to one calibrator. It is safe for concurrent
// use; exchanges are serialised.
type Session struct {
	mu sync.Mutex

	res      visa.Resource
	address  string
	opts     Options
	identity Identity

	// enabled mirrors the output state last reported by the instrument.
	enabled bool
	// stale is set when an exchange was abandoned, so the link may still
	// carry its reply and the output state is unknown.
	stale  bool
	closed bool
}

// Connect opens address, checks that a 5025 answers and puts it in remote
// mode.
func Connect(ctx context.Context, address string, opts Options) (*Session, error) {
	logrus.WithField("address", address).Trace("Connect called")

	opts = opts.withDefaults()

	res, err := opts.Open(ctx, address, opts.Transport)
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: err}
	}

	s := &Session{
		res:     res,
		address: address,
		opts:    opts,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.handshake(ctx); err != nil {
		if cerr := res.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("failed to close resource after failed connect")
		}
		s.closed = true
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"address":  address,
		"identity": s.identity.String(),
		"output":   onOff(s.enabled),
	}).Info("connected to calibrator")

	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	raw, err := s.ask(ctx, QueryIdentity.header)
	if err != nil {
		var cerr *ConnectionError
		if errors.As(err, &cerr) {
			return err
		}
		return &ConnectionError{Address: s.address, Err: err}
	}

	resp, err := QueryIdentity.Parse(raw)
	if err != nil {
		return &UnexpectedDeviceError{Identity: raw, Expected: s.opts.ExpectedModels, Err: err}
	}
	if !modelMatches(resp.Identity.Model, s.opts.ExpectedModels) {
		return &UnexpectedDeviceError{Identity: raw, Expected: s.opts.ExpectedModels}
	}
	s.identity = *resp.Identity

	if err := s.send(ctx, "*CLS"); err != nil {
		return err
	}
	if err := s.send(ctx, "SYST:REM"); err != nil {
		return err
	}

	out, err := s.query(ctx, QueryOutput)
	if err != nil {
		return err
	}
	s.enabled = out.Bool

	return nil
}

func modelMatches(model string, expected []string) bool {
	model = strings.ToUpper(strings.TrimSpace(model))
	for _, e := range expected {
		if strings.HasPrefix(model, strings.ToUpper(e)) {
			return true
		}
	}
	return false
}

// WithSession connects, runs fn and disconnects on every exit path,
// including a panic in fn. A Disconnect error is returned only if fn
// succeeded.
func WithSession(ctx context.Context, address string, opts Options, fn func(*Session) error) (err error) {
	s, err := Connect(ctx, address, opts)
	if err != nil {
		return err
	}

	defer func() {
		derr := s.Disconnect(ctx)
		if err == nil {
			err = derr
		}
	}()

	return fn(s)
}

// Address returns the resource address the session was opened with.
func (s *Session) Address() string {
	return s.address
}

// Identity returns the identity read during Connect.
func (s *Session) Identity() Identity {
	return s.identity
}

// InterlockState returns the output state last confirmed by the instrument,
// without talking to it. Use OutputEnabled for a fresh reading.
func (s *Session) InterlockState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enabled
}

// SetOutput validates setting, programs it and reads it back. It never turns
// the output on. Power settings turn the output off first.
func (s *Session) SetOutput(ctx context.Context, setting OutputSetting) (Reading, error) {
	if setting == nil {
		return Reading{}, &RangeError{Quantity: "setting", Reason: "no setting given"}
	}
	logrus.Tracef("SetOutput called with %s", setting)

	prog, err := setting.program()
	if err != nil {
		return Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return Reading{}, err
	}

	if prog.disableFirst {
		if err := s.setOutput(ctx, false); err != nil {
			return Reading{}, err
		}
	}

	for _, cmd := range prog.commands {
		if err := s.send(ctx, cmd); err != nil {
			return Reading{}, err
		}
	}
	sent := strings.Join(prog.commands, "; ")

	entry, err := s.nextError(ctx)
	if err != nil {
		return Reading{}, err
	}
	if entry.Code != 0 {
		return Reading{}, &CommandRejectedError{Command: sent, Code: entry.Code, Message: entry.Message}
	}

	var echoed Reading
	replies := map[string]Response{}
	for i, check := range prog.echoes {
		resp, ok := replies[check.query.header]
		if !ok {
			resp, err = s.query(ctx, check.query)
			if err != nil {
				return Reading{}, err
			}
			replies[check.query.header] = resp
		}

		if !check.matches(resp) {
			return Reading{}, &CommandRejectedError{
				Command: sent,
				Message: fmt.Sprintf("%s reads back %q, expected %s", check.query.header, resp.Raw, check.expected()),
			}
		}
		if i == 0 && check.index < len(resp.Readings) {
			echoed = resp.Readings[check.index]
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": setting.Function(),
		"setting":  setting.String(),
		"echoed":   echoed.String(),
	}).Info("output programmed")

	return echoed, nil
}

// EnableOutput turns the output on and confirms it with the instrument.
func (s *Session) EnableOutput(ctx context.Context) error {
	logrus.Tracef("EnableOutput called")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.setOutput(ctx, true)
}

// DisableOutput turns the output off and confirms it with the instrument.
func (s *Session) DisableOutput(ctx context.Context) error {
	logrus.Tracef("DisableOutput called")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.setOutput(ctx, false)
}

// setOutput is the confirmed output switch. The local state always follows
// what the instrument reports, never what was requested.
func (s *Session) setOutput(ctx context.Context, on bool) error {
	if err := s.send(ctx, "OUTP "+onOff(on)); err != nil {
		return err
	}

	resp, err := s.query(ctx, QueryOutput)
	if err != nil {
		return err
	}
	s.observeOutput(resp.Bool)

	if resp.Bool != on {
		mismatch := &InterlockMismatchError{Requested: on, Reported: resp.Bool}
		if entry, err := s.nextError(ctx); err == nil && entry.Code != 0 {
			mismatch.Reason = entry.String()
		}
		logrus.WithFields(logrus.Fields{
			"requested": onOff(on),
			"reported":  onOff(resp.Bool),
			"reason":    mismatch.Reason,
		}).Error("output interlock mismatch")
		return mismatch
	}

	logrus.Infof("output %s", onOff(on))

	return nil
}

func (s *Session) observeOutput(enabled bool) {
	changed := s.enabled != enabled
	s.enabled = enabled
	if changed && s.opts.OnOutputChange != nil {
		s.opts.OnOutputChange(enabled)
	}
}

// Query performs one exchange and parses the reply.
func (s *Session) Query(ctx context.Context, q Query) (Response, error) {
	logrus.Tracef("Query called with %s", q.header)

	if !q.valid() {
		return Response{}, ErrInvalidQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return Response{}, err
	}
	return s.query(ctx, q)
}

// command sends one command that has no reply.
func (s *Session) command(ctx context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.send(ctx, cmd)
}

// Disconnect turns the output off, returns the instrument to local control
// and closes the link. Failures to turn the output off are logged, not
// returned, and do not stop the link from being closed. Calling Disconnect
// more than once is a no-op.
func (s *Session) Disconnect(ctx context.Context) error {
	logrus.Tracef("Disconnect called")

	// The output must be switched off even if the caller has given up.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.stale {
		if err := s.res.Flush(); err != nil {
			logrus.WithError(err).Warn("failed to flush input before disconnecting")
		}
		s.stale = false
	}

	if err := s.setOutput(ctx, false); err != nil {
		logrus.WithError(err).Error("failed to disable output while disconnecting")
	}

	if err := s.send(ctx, "SYST:LOC"); err != nil {
		logrus.WithError(err).Warn("failed to return calibrator to local control")
	}

	s.closed = true
	if err := s.res.Close(); err != nil {
		return &ConnectionError{Address: s.address, Err: err}
	}

	logrus.WithField("address", s.address).Info("disconnected from calibrator")

	return nil
}

// ready is called with the lock held before every public operation.
func (s *Session) ready(ctx context.Context) error {
	if s.closed {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.stale {
		return s.resync(ctx)
	}
	return nil
}

// resync drops whatever the abandoned exchange left on the link and re-reads
// the output state.
func (s *Session) resync(ctx context.Context) error {
	logrus.Warn("session out of sync, flushing input and re-reading output state")

	if err := s.res.Flush(); err != nil {
		return &ConnectionError{Address: s.address, Err: err}
	}
	s.stale = false

	resp, err := s.query(ctx, QueryOutput)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to re-read output state")
	}
	s.observeOutput(resp.Bool)

	return nil
}

func (s *Session) send(ctx context.Context, cmd string) error {
	if err := s.res.Write(ctx, cmd); err != nil {
		return s.failed(cmd, err)
	}
	s.pause(ctx)
	return nil
}

func (s *Session) ask(ctx context.Context, header string) (string, error) {
	if err := s.res.Write(ctx, header); err != nil {
		return "", s.failed(header, err)
	}

	raw, err := s.res.Read(ctx, s.opts.Timeout)
	if err != nil {
		return "", s.failed(header, err)
	}

	s.pause(ctx)
	return raw, nil
}

func (s *Session) query(ctx context.Context, q Query) (Response, error) {
	raw, err := s.ask(ctx, q.header)
	if err != nil {
		return Response{}, err
	}
	return q.Parse(raw)
}

func (s *Session) nextError(ctx context.Context) (ErrorEntry, error) {
	resp, err := s.query(ctx, QueryError)
	if err != nil {
		return ErrorEntry{}, err
	}
	return *resp.Error, nil
}

// failed classifies a transport error. Any failure mid-exchange leaves the
// link in an unknown state.
func (s *Session) failed(cmd string, err error) error {
	s.stale = true

	switch {
	case errors.Is(err, visa.ErrTimeout):
		return &TimeoutError{Command: cmd, After: s.opts.Timeout}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrapf(err, "%s interrupted", cmd)
	}
	return &ConnectionError{Address: s.address, Err: pkgerrors.Wrapf(err, "%s failed", cmd)}
}

func (s *Session) pause(ctx context.Context) {
	if s.opts.CommandDelay <= 0 {
		return
	}
	t := time.NewTimer(s.opts.CommandDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
