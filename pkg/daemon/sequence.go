package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/events"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/types"
)

const scheduleNextRuns = 3

var errInvalidSchedule = errors.New("invalid schedule")

// runSequence runs seq on the current session. Only one sequence runs at a
// time; a second one gets errSequenceRunning. The run starts once output
// changes already in flight are done. The report is nil only when the run
// could not start.
func (d *Daemon) runSequence(ctx context.Context, seq *sequence.Sequence) (*sequence.Report, error) {
	if !d.seqRunning.CompareAndSwap(false, true) {
		return nil, errSequenceRunning
	}
	defer d.seqRunning.Store(false)

	d.seqMu.Lock()
	defer d.seqMu.Unlock()

	s, err := d.current()
	if err != nil {
		return nil, err
	}

	runner := sequence.NewRunner(s)
	runner.OnStep = func(id string, res sequence.StepResult) {
		d.hub.Publish(events.SequenceStep, events.SequenceStepEvent{
			RunID:  id,
			Index:  res.Index,
			Name:   res.Name,
			Action: res.Action,
			Passed: res.Passed,
			Error:  res.Error,
			Ts:     time.Now().Unix(),
		})
	}

	report, err := runner.Run(ctx, seq)
	d.lastReport.Store(report)
	d.hub.Publish(events.SequenceFinished, events.SequenceFinishedEvent{
		RunID:    report.ID,
		Sequence: report.Sequence,
		Passed:   report.Passed,
		Error:    report.Error,
		Ts:       time.Now().Unix(),
	})

	return report, err
}

func (d *Daemon) runScheduledSequence(ctx context.Context) error {
	path := d.conf.ScheduleSequence()
	if path == "" {
		return fmt.Errorf("no sequence configured for the schedule")
	}

	seq, err := sequence.Load(path)
	if err != nil {
		return err
	}

	logrus.WithField("sequence", path).Info("starting scheduled sequence")
	report, err := d.runSequence(ctx, seq)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"id":       report.ID,
		"sequence": report.Sequence,
	}).Info("scheduled sequence passed")
	return nil
}

func (d *Daemon) schedulePreCheck() error {
	if _, err := d.current(); err != nil {
		return err
	}
	if d.seqRunning.Load() {
		return errSequenceRunning
	}
	return nil
}

// applySchedule starts or stops the scheduler to match the config.
func (d *Daemon) applySchedule() error {
	expr := d.conf.Schedule()
	if expr == "" {
		d.scheduler.Stop()
		return nil
	}

	if d.conf.ScheduleSequence() == "" {
		d.scheduler.Stop()
		return fmt.Errorf("schedule %q has no sequence file, not scheduling", expr)
	}

	if err := d.scheduler.Schedule(expr); err != nil {
		d.scheduler.Stop()
		return pkgerrors.Wrapf(err, "invalid schedule %q", expr)
	}
	d.scheduler.Start()

	next, _ := d.scheduler.Status()
	logrus.WithFields(logrus.Fields{
		"schedule": expr,
		"sequence": d.conf.ScheduleSequence(),
		"nextRun":  next.Format(time.DateTime),
	}).Info("sequence scheduled")
	return nil
}

// setScheduleConfig validates, saves and applies a new schedule. An empty
// expr disables scheduled runs.
func (d *Daemon) setScheduleConfig(expr, seqPath string) (types.ScheduleStatus, error) {
	if expr != "" {
		if _, err := ParseSchedule(expr); err != nil {
			return types.ScheduleStatus{}, fmt.Errorf("%w: %v", errInvalidSchedule, err)
		}

		if seqPath == "" {
			seqPath = d.conf.ScheduleSequence()
		}
		if seqPath == "" {
			return types.ScheduleStatus{}, fmt.Errorf("%w: a sequence file is required", errInvalidSchedule)
		}
		if _, err := sequence.Load(seqPath); err != nil {
			return types.ScheduleStatus{}, fmt.Errorf("%w: %v", errInvalidSchedule, err)
		}
		d.conf.SetScheduleSequence(seqPath)
	}

	d.conf.SetSchedule(expr)
	if err := d.conf.Save(); err != nil {
		logrus.WithError(err).Error("failed to save config")
		return types.ScheduleStatus{}, fmt.Errorf("failed to save config: %w", err)
	}

	if err := d.applySchedule(); err != nil {
		return types.ScheduleStatus{}, err
	}

	return d.scheduleStatus(), nil
}

func (d *Daemon) scheduleStatus() types.ScheduleStatus {
	st := types.ScheduleStatus{
		Cron:     d.conf.Schedule(),
		Sequence: d.conf.ScheduleSequence(),
	}

	next, running := d.scheduler.Status()
	if !running || st.Cron == "" {
		return st
	}
	st.Enabled = true

	// The first run may have been skipped or postponed, so start from the
	// scheduler's own next run.
	st.NextRuns = append(st.NextRuns, next)
	if more, err := NextRuns(st.Cron, next, scheduleNextRuns-1); err == nil {
		st.NextRuns = append(st.NextRuns, more...)
	}

	return st
}
