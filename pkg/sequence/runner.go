package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/te5025"
)

// ErrOutOfTolerance is returned when a measure step reads a value too far
// from its expectation.
var ErrOutOfTolerance = errors.New("measurement out of tolerance")

// Instrument is what a sequence needs from a calibrator. *te5025.Session
// and the daemon client both implement it.
type Instrument interface {
	SetOutput(ctx context.Context, setting te5025.OutputSetting) (te5025.Reading, error)
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
	Query(ctx context.Context, q te5025.Query) (te5025.Response, error)
}

var _ Instrument = (*te5025.Session)(nil)

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int              `json:"index"`
	Name     string           `json:"name"`
	Action   string           `json:"action"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Reading  *te5025.Reading  `json:"reading,omitempty"`
	Response *te5025.Response `json:"response,omitempty"`
	Passed   bool             `json:"passed"`
	Error    string           `json:"error,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	ID       string       `json:"id"`
	Sequence string       `json:"sequence"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Steps    []StepResult `json:"steps"`
	Passed   bool         `json:"passed"`
	Error    string       `json:"error,omitempty"`
}

// Runner executes sequences on one instrument.
type Runner struct {
	inst Instrument

	// OnStep is called after every step, including the failing one.
	OnStep func(id string, result StepResult)
}

func NewRunner(inst Instrument) *Runner {
	return &Runner{inst: inst}
}

// Run executes the steps in order and stops at the first failure. Output is
// disabled when the run ends, even if a step failed or ctx was cancelled.
// An invalid sequence is rejected before the instrument is touched. The
// report is always returned; the error is the first failure.
func (r *Runner) Run(ctx context.Context, seq *Sequence) (*Report, error) {
	report := &Report{
		ID:       uuid.NewString(),
		Sequence: seq.Name,
		Started:  time.Now(),
	}
	logger := logrus.WithFields(logrus.Fields{
		"id":       report.ID,
		"sequence": seq.Name,
	})

	if err := seq.Validate(); err != nil {
		report.Finished = report.Started
		report.Error = err.Error()
		return report, err
	}

	var runErr error
	logger.Infof("running sequence with %d steps", len(seq.Steps))
	for i, step := range seq.Steps {
		res, err := r.runStep(ctx, i+1, step)
		report.Steps = append(report.Steps, res)
		if r.OnStep != nil {
			r.OnStep(report.ID, res)
		}
		if err != nil {
			runErr = pkgerrors.Wrapf(err, "step %d (%s)", res.Index, res.Name)
			break
		}
		logger.WithField("step", res.Index).Debugf("step %q passed", res.Name)
	}

	// A cancelled run still has to leave the output off.
	if err := r.inst.DisableOutput(context.WithoutCancel(ctx)); err != nil {
		logger.WithError(err).Error("failed to disable output after sequence")
		if runErr == nil {
			runErr = pkgerrors.Wrap(err, "failed to disable output after sequence")
		}
	}

	report.Finished = time.Now()
	report.Passed = runErr == nil
	if runErr != nil {
		report.Error = runErr.Error()
		logger.WithError(runErr).Warn("sequence failed")
	} else {
		logger.Infof("sequence passed in %s", report.Finished.Sub(report.Started).Round(time.Millisecond))
	}

	return report, runErr
}

func (r *Runner) runStep(ctx context.Context, index int, step Step) (StepResult, error) {
	res := StepResult{
		Index:   index,
		Name:    step.String(),
		Action:  step.Action(),
		Started: time.Now(),
	}

	err := r.do(ctx, step, &res)
	res.Duration = time.Since(res.Started)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Passed = true

	return res, nil
}

func (r *Runner) do(ctx context.Context, step Step, res *StepResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch res.Action {
	case ActionSet:
		setting, err := step.Set.Setting()
		if err != nil {
			return err
		}
		reading, err := r.inst.SetOutput(ctx, setting)
		if err != nil {
			return err
		}
		res.Reading = &reading
	case ActionEnable:
		return r.inst.EnableOutput(ctx)
	case ActionDisable:
		return r.inst.DisableOutput(ctx)
	case ActionDwell:
		t := time.NewTimer(step.Dwell)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	case ActionMeasure:
		return r.measure(ctx, step.Measure, res)
	case ActionQuery:
		q, _ := te5025.LookupQuery(step.Query)
		resp, err := r.inst.Query(ctx, q)
		if err != nil {
			return err
		}
		res.Response = &resp
	default:
		return fmt.Errorf("invalid step")
	}

	return nil
}

func (r *Runner) measure(ctx context.Context, m *MeasureStep, res *StepResult) error {
	q, _ := te5025.LookupQuery(m.Query)
	resp, err := r.inst.Query(ctx, q)
	if err != nil {
		return err
	}
	res.Response = &resp

	reading := resp.Reading()
	res.Reading = &reading

	if m.Expect == nil {
		return nil
	}

	want := float64(*m.Expect)
	if diff := abs(reading.Value - want); diff > m.tolerance() {
		return fmt.Errorf("%w: read %s, expected %s ± %s", ErrOutOfTolerance,
			reading, te5025.Reading{Value: want, Unit: reading.Unit},
			te5025.Reading{Value: m.tolerance(), Unit: reading.Unit})
	}

	return nil
}
