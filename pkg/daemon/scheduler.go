package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLeadDuration = time.Minute // announce scheduled runs this long before they start
	preCheckMaxTimes    = 30
	preCheckInterval    = time.Second * 10
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TaskFunc represents a runnable task.
type TaskFunc func(ctx context.Context) error

// Scheduler runs Task on a cron schedule. PreCheck, when set, must pass
// before each run; it is retried for a while before the run is given up.
type Scheduler struct {
	OnUpcoming func(runAt time.Time) // called leadDuration before running the task
	OnError    func(err error)       // called on precheck or task error
	Task       TaskFunc
	PreCheck   func() error

	leadDuration time.Duration

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
	cancel    context.CancelFunc
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlPostpone                       // next run postponed
	ctrlSkip                           // next run skipped
)

func (k controlKind) String() string {
	switch k {
	case ctrlRecalculate:
		return "recalculate"
	case ctrlPostpone:
		return "postpone"
	case ctrlSkip:
		return "skip"
	}
	return fmt.Sprintf("controlKind(%d)", int(k))
}

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task TaskFunc, preCheck func() error) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:         task,
		PreCheck:     preCheck,
		leadDuration: defaultLeadDuration,
		controlCh:    make(chan controlMsg, 4),
	}
}

// ParseSchedule validates a cron expression. Seconds are optional and
// descriptors like @daily are accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// NextRuns returns the next n activation times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	sh, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		from = sh.Next(from)
		runs = append(runs, from)
	}

	return runs, nil
}

// Stop stops the timer loop and cancels a task that is still running. The
// scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.stopCh = make(chan struct{})
	s.cancel = cancel
	go s.runScheduled(ctx, s.stopCh)
}

func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := ParseSchedule(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// Postpone postpones the next scheduled run by the given duration.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to postpone")
	}
	orig := s.nextRun
	next := s.schedule.Next(orig).Truncate(time.Second)
	s.mu.Unlock()

	pp := orig.Add(d).Truncate(time.Second)
	if pp.Compare(next) >= 0 {
		return fmt.Errorf("postpone duration too long, the run after is at %s", next.Format(time.DateTime))
	}

	s.trySendControl(ctrlPostpone, pp)
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

func (s *Scheduler) runScheduled(ctx context.Context, stopCh chan struct{}) {
	defer logrus.Debug("scheduler stopped")

	logrus.Debug("scheduler started")

	for {
		leading := true

		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		var timer *time.Timer
		if schedule == nil || nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			wait := time.Until(nextRun) - s.leadDuration
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
		}

		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break
				}

				if leading {
					logrus.Debugf("upcoming scheduled run at %s", nextRun.Format(time.DateTime))
					leading = false
					runWait := time.Until(nextRun)
					if runWait < 0 {
						runWait = 0
					}
					timer.Reset(runWait)
					s.sendUpcoming(nextRun)
					continue
				}

				logrus.Debugf("starting scheduled run of %s", nextRun.Format(time.DateTime))

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(fmt.Errorf("precheck failed: %w", err))
						}

						attempts++
						if attempts <= preCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, preCheckInterval)
							timer.Reset(preCheckInterval)
							continue
						}

						logrus.Warnf("giving up scheduled run of %s", nextRun.Format(time.DateTime))
						timer.Stop()
						s.advanceNextRun()
						break
					}
				}

				timer.Stop()

				go func() {
					if err := s.Task(ctx); err != nil {
						s.sendError(fmt.Errorf("scheduled run failed: %w", err))
					}
				}()
				s.advanceNextRun()
			case <-stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh: // internal control messages
				logrus.WithFields(logrus.Fields{
					"kind": msg.kind,
					"data": msg.data,
				}).Debug("received control msg")

				switch msg.kind {
				case ctrlRecalculate:
					timer.Stop()
					sh := msg.data.(cron.Schedule)
					s.mu.Lock()
					s.schedule = sh
					s.nextRun = sh.Next(time.Now())
					s.mu.Unlock()
				case ctrlPostpone: // only postpone current run
					pp := msg.data.(time.Time)
					timer.Reset(time.Until(pp))
					continue
				case ctrlSkip:
					timer.Stop()
				}
			}

			break
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendUpcoming(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}

	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	logrus.WithError(err).Warn("scheduler error")
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
