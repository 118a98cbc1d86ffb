package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/te5025/pkg/events"
)

func startLoop(t *testing.T, d *Daemon) {
	t.Helper()

	d.loopInterval = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.watchLoop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatchLoopPublishesFrontPanelChanges(t *testing.T) {
	d := newTestDaemon(t)
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	startLoop(t, d)

	// Someone turns the output on at the front panel.
	d.sim.ForceOutput(true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name != events.OutputState {
				continue
			}
			p, err := events.DecodeAs[events.OutputStateEvent](ev)
			require.NoError(t, err)
			if p.Enabled {
				return
			}
		case <-deadline:
			t.Fatal("output change was not published")
		}
	}
}

func TestWatchLoopReconnects(t *testing.T) {
	d := newTestDaemon(t)
	require.NoError(t, d.Disconnect(context.Background()))

	startLoop(t, d)

	assert.Eventually(t, func() bool {
		_, err := d.current()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchLoopLeavesSequencesAlone(t *testing.T) {
	d := newTestDaemon(t)
	d.seqRunning.Store(true)
	defer d.seqRunning.Store(false)

	d.sim.ResetWrites()
	assert.True(t, d.poll(context.Background()))
	assert.Empty(t, d.sim.Writes())
}
