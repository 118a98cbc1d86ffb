// Package simulator is an in-process stand-in for a Time Electronics 5025.
// It speaks the same command set over the visa.Resource interface, keeps an
// error queue, and can be told to misbehave.
package simulator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/visa"
)

// DefaultIdentity is what *IDN? returns unless overridden.
const DefaultIdentity = "TIME ELECTRONICS,5025C,SIM0001,2.01"

// SCPI error codes pushed onto the error queue.
const (
	codeUndefinedHeader  = -113
	codeSettingsConflict = -221
	codeOutOfRange       = -222
	codeMissingParameter = -109
)

// Faults makes the simulator misbehave.
type Faults struct {
	// Silent drops every reply. Commands are still executed.
	Silent bool
	// SafetyLoopOpen refuses OUTP ON: the output stays off and a settings
	// conflict is queued.
	SafetyLoopOpen bool
	// WriteError, if set, is returned by every Write.
	WriteError error
	// ReplyDelay holds each reply back this long after the query.
	ReplyDelay time.Duration
	// Identity replaces the *IDN? reply.
	Identity string
}

type reply struct {
	text string
	at   time.Time
}

// Instrument is a simulated calibrator. It is safe for concurrent use.
type Instrument struct {
	mu sync.Mutex

	faults  Faults
	state   state
	errors  []string
	pending []reply
	writes  []string
	closed  bool
}

// New returns a simulator in its power-on state.
func New() *Instrument {
	return &Instrument{state: powerOnState()}
}

// Open satisfies the session's OpenFunc. The address is ignored; the
// simulator is always there.
func (in *Instrument) Open(_ context.Context, address string, _ visa.Options) (visa.Resource, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	logrus.WithField("address", address).Debug("opening simulated calibrator")

	in.closed = false
	in.pending = nil

	return in, nil
}

// SetFaults replaces the active faults.
func (in *Instrument) SetFaults(f Faults) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.faults = f
}

// Writes returns every message written so far, in order.
func (in *Instrument) Writes() []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	ret := make([]string, len(in.writes))
	copy(ret, in.writes)
	return ret
}

// ResetWrites forgets the write log.
func (in *Instrument) ResetWrites() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.writes = nil
}

// OutputEnabled reports the simulated output relay state.
func (in *Instrument) OutputEnabled() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.state.output
}

// Remote reports whether the front panel is locked out.
func (in *Instrument) Remote() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.state.remote
}

// ForceOutput flips the relay behind the controller's back, as an operator
// at the front panel would.
func (in *Instrument) ForceOutput(on bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.state.output = on
}

// PushError queues an entry on the error queue.
func (in *Instrument) PushError(code int, msg string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.pushError(code, msg)
}

func (in *Instrument) pushError(code int, msg string) {
	in.errors = append(in.errors, fmt.Sprintf("%d,%q", code, msg))
}

// Closed reports whether the resource has been closed.
func (in *Instrument) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.closed
}

func (in *Instrument) Write(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return visa.ErrClosed
	}
	in.writes = append(in.writes, msg)
	if in.faults.WriteError != nil {
		return in.faults.WriteError
	}

	out, isQuery := in.execute(msg)
	if !isQuery || in.faults.Silent {
		return nil
	}
	if out == "" {
		// Unanswerable queries produce no reply, like the real thing.
		return nil
	}

	in.pending = append(in.pending, reply{text: out, at: time.Now().Add(in.faults.ReplyDelay)})

	return nil
}

// readPoll is how often a blocked Read checks for a due reply.
const readPoll = 2 * time.Millisecond

func (in *Instrument) Read(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			return "", visa.ErrClosed
		}
		if len(in.pending) > 0 && !time.Now().Before(in.pending[0].at) {
			r := in.pending[0]
			in.pending = in.pending[1:]
			in.mu.Unlock()
			return r.text, nil
		}
		in.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", visa.ErrTimeout
		}
		if remaining > readPoll {
			remaining = readPoll
		}

		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

// Flush discards every queued reply, including ones not yet due.
func (in *Instrument) Flush() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return visa.ErrClosed
	}
	in.pending = nil

	return nil
}

func (in *Instrument) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.closed = true
	in.pending = nil

	return nil
}

// execute runs one message and returns the reply for queries.
func (in *Instrument) execute(msg string) (string, bool) {
	msg = strings.TrimSpace(msg)
	header, arg, _ := strings.Cut(msg, " ")
	header = strings.ToUpper(header)
	arg = strings.TrimSpace(arg)
	isQuery := strings.HasSuffix(header, "?")

	if isQuery {
		h, ok := queryHandlers[header]
		if !ok {
			in.pushError(codeUndefinedHeader, "Undefined header")
			return "", true
		}
		if header == "*IDN?" && in.faults.Identity != "" {
			return in.faults.Identity, true
		}
		return h(in), true
	}

	h, ok := commandHandlers[header]
	if !ok {
		in.pushError(codeUndefinedHeader, "Undefined header")
		return "", false
	}
	if err := h(in, arg); err != nil {
		in.pushError(err.code, err.msg)
	}
	return "", false
}
