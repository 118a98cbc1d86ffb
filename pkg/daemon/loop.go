package daemon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultLoopInterval = 10 * time.Second
	// reconnectAfter is the number of failed polls in a row after which the
	// session is reopened.
	reconnectAfter = 3
)

// watchLoop polls the output state until ctx is done. Output changes made
// at the front panel, or a tripped output, reach event subscribers through
// the session's output callback. A link that stops answering is reopened.
func (d *Daemon) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(d.loopInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if d.poll(ctx) {
			failures = 0
			continue
		}

		failures++
		if failures >= reconnectAfter {
			d.reconnect(ctx)
			failures = 0
		}
	}
}

// poll reads the output state once and reports whether the calibrator
// answered.
func (d *Daemon) poll(ctx context.Context) bool {
	// A running sequence keeps the link busy and checks it itself.
	if d.seqRunning.Load() {
		return true
	}

	s, err := d.current()
	if err != nil {
		logrus.Debug("not connected, skipping poll")
		return false
	}

	pollCtx, cancel := context.WithTimeout(ctx, d.conf.Timeout()+time.Second)
	defer cancel()

	if _, err := s.OutputEnabled(pollCtx); err != nil {
		if ctx.Err() != nil {
			return true
		}
		logrus.WithError(err).Warn("failed to poll calibrator")
		return false
	}

	logrus.Trace("calibrator polled")
	return true
}

func (d *Daemon) reconnect(ctx context.Context) {
	// Never pull the session from under a sequence or a reload.
	if !d.seqMu.TryLock() {
		return
	}
	defer d.seqMu.Unlock()

	logrus.Warn("calibrator is not answering, reconnecting")

	if err := d.Disconnect(ctx); err != nil {
		logrus.WithError(err).Warn("failed to close the old session")
	}
	if err := d.Connect(ctx); err != nil {
		logrus.WithError(err).Error("failed to reconnect, will retry")
		return
	}
	logrus.Info("reconnected to calibrator")
}
