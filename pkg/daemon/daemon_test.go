package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/events"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/simulator"
	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/types"
	"github.com/charlie0129/te5025/pkg/utils/ptr"
	"github.com/charlie0129/te5025/pkg/visa"
)

const testSequence = `
name: smoke
steps:
  - set: {function: dcv, range: 20V, value: 5V}
  - enable: true
  - measure: {query: voltage, expect: 5V}
`

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	conf := config.NewFileFromConfig(&config.RawFileConfig{
		Simulate:           ptr.To(true),
		TimeoutMillis:      ptr.To(200),
		CommandDelayMillis: ptr.To(0),
	}, filepath.Join(t.TempDir(), "config.json"))

	d := New(conf)
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() {
		d.scheduler.Stop()
		_ = d.Disconnect(context.Background())
	})

	return d
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func writeSequence(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "seq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestIdentityAndStatus(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	w := do(t, r, http.MethodGet, "/identity", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5025C", decode[te5025.Identity](t, w).Model)

	w = do(t, r, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[te5025.Status](t, w)
	assert.False(t, st.OutputEnabled)
	assert.Equal(t, "DC", st.Function)
}

func TestSetOutputSetting(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	w := do(t, r, http.MethodPut, "/output/setting", `{"function":"dcv","range":20,"value":10}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, te5025.Reading{Value: 10, Unit: te5025.UnitVolt}, decode[te5025.Reading](t, w))

	w = do(t, r, http.MethodPut, "/output/setting", `{"function":"dcv","value":2000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "range", decode[types.ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodPut, "/output/setting", `{"function":"warp"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/output/setting", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutputEnabled(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	w := do(t, r, http.MethodPut, "/output/enabled", "true")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, d.sim.OutputEnabled())

	w = do(t, r, http.MethodGet, "/output/enabled", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[bool](t, w))

	w = do(t, r, http.MethodPut, "/output/enabled", "false")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, d.sim.OutputEnabled())

	d.sim.SetFaults(simulator.Faults{SafetyLoopOpen: true})
	w = do(t, r, http.MethodPut, "/output/enabled", "true")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "interlock", decode[types.ErrorResponse](t, w).Code)
}

func TestQuery(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	w := do(t, r, http.MethodPost, "/query", `{"query":"voltage-range"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[te5025.Response](t, w)
	assert.Equal(t, te5025.KindNumber, resp.Kind)
	assert.Equal(t, 20.0, resp.Reading().Value)

	w = do(t, r, http.MethodPost, "/query", `{"query":"FUNC?","kind":"word"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "DC", decode[te5025.Response](t, w).Word)

	w = do(t, r, http.MethodPost, "/query", `{"query":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid-query", decode[types.ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodPost, "/query", `{"query":"NOPE?","kind":"number"}`)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "timeout", decode[types.ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodGet, "/queries", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.QueryInfo](t, w), len(te5025.Queries()))
}

func TestErrors(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	d.sim.PushError(-222, "Data out of range")
	d.sim.PushError(-113, "Undefined header")

	w := do(t, r, http.MethodGet, "/errors", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]te5025.ErrorEntry](t, w)
	require.Len(t, entries, 2)
	assert.Equal(t, -222, entries[0].Code)

	d.sim.PushError(-222, "Data out of range")
	w = do(t, r, http.MethodDelete, "/errors", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/errors", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestPostSequence(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	w := do(t, r, http.MethodGet, "/sequence", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/sequence", testSequence)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[sequence.Report](t, w)
	assert.True(t, report.Passed)
	assert.Len(t, report.Steps, 3)
	assert.False(t, d.sim.OutputEnabled())

	w = do(t, r, http.MethodGet, "/sequence", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.ID, decode[sequence.Report](t, w).ID)

	w = do(t, r, http.MethodPost, "/sequence", "steps: []")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSequenceExcludesOutputChanges(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	d.seqMu.Lock()
	d.seqRunning.Store(true)

	w := do(t, r, http.MethodPost, "/sequence", testSequence)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.CodeBusy, decode[types.ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodPut, "/output/enabled", "true")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPut, "/output/enabled", "false")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/output/enabled", "")
	assert.Equal(t, http.StatusOK, w.Code)

	d.seqRunning.Store(false)
	d.seqMu.Unlock()
}

func TestSequenceWaitsForOutputChangesInFlight(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	seq, err := sequence.Parse([]byte(testSequence))
	require.NoError(t, err)

	// An output change has passed the busy check and is still running.
	d.seqMu.RLock()

	done := make(chan *sequence.Report)
	go func() {
		report, err := d.runSequence(context.Background(), seq)
		assert.NoError(t, err)
		done <- report
	}()

	// Once the sequence is waiting, new output changes are turned away.
	assert.Eventually(t, func() bool {
		if d.seqMu.TryRLock() {
			d.seqMu.RUnlock()
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	w := do(t, r, http.MethodPut, "/output/enabled", "true")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.CodeBusy, decode[types.ErrorResponse](t, w).Code)

	select {
	case <-done:
		t.Fatal("sequence started while an output change was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	d.seqMu.RUnlock()

	select {
	case report := <-done:
		require.NotNil(t, report)
		assert.True(t, report.Passed)
	case <-time.After(5 * time.Second):
		t.Fatal("sequence did not run")
	}
}

func TestReconnectTurnsAwayOutputChanges(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()

	d.seqMu.Lock()
	w := do(t, r, http.MethodPut, "/output/enabled", "true")
	d.seqMu.Unlock()

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[types.ErrorResponse](t, w).Error, "reconnecting")
}

func TestNotConnected(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()
	require.NoError(t, d.Disconnect(context.Background()))

	w := do(t, r, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not-connected", decode[types.ErrorResponse](t, w).Code)
}

func TestConnectRetriesOnlyTransportErrors(t *testing.T) {
	conf := config.NewFileFromConfig(&config.RawFileConfig{TimeoutMillis: ptr.To(50)}, "")
	d := New(conf)

	sim := simulator.New()
	sim.SetFaults(simulator.Faults{Identity: "ACME,DMM9000,1,1.0"})
	opens := 0
	d.open = func(ctx context.Context, address string, opts visa.Options) (visa.Resource, error) {
		opens++
		return sim.Open(ctx, address, opts)
	}

	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, te5025.ErrUnexpectedDevice), "got %v", err)
	assert.Equal(t, 1, opens)
}

func TestSchedule(t *testing.T) {
	d := newTestDaemon(t)
	r := d.Router()
	path := writeSequence(t, testSequence)

	w := do(t, r, http.MethodPut, "/schedule", `{"cron":"not a cron","sequence":"`+path+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/schedule", `{"cron":"@daily"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a sequence file is required")

	w = do(t, r, http.MethodPut, "/schedule", `{"cron":"@daily","sequence":"`+path+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[types.ScheduleStatus](t, w)
	assert.True(t, st.Enabled)
	assert.Equal(t, path, st.Sequence)
	require.Len(t, st.NextRuns, scheduleNextRuns)
	assert.True(t, st.NextRuns[1].After(st.NextRuns[0]))

	w = do(t, r, http.MethodPost, "/schedule/skip", "")
	require.Equal(t, http.StatusOK, w.Code)
	skipped := decode[types.ScheduleStatus](t, w)
	assert.Equal(t, st.NextRuns[1], skipped.NextRuns[0])

	w = do(t, r, http.MethodPost, "/schedule/postpone", `"48h"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/schedule", `{"cron":""}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[types.ScheduleStatus](t, w).Enabled)
	assert.Empty(t, d.conf.Schedule())
}

func TestScheduledSequenceRun(t *testing.T) {
	d := newTestDaemon(t)
	d.conf.SetScheduleSequence(writeSequence(t, testSequence))

	require.NoError(t, d.schedulePreCheck())
	require.NoError(t, d.runScheduledSequence(context.Background()))

	report := d.lastReport.Load()
	require.NotNil(t, report)
	assert.True(t, report.Passed)
	assert.Equal(t, "smoke", report.Sequence)

	d.conf.SetScheduleSequence(writeSequence(t, "steps:\n  - query: nope\n"))
	assert.Error(t, d.runScheduledSequence(context.Background()))
}

func TestEventsStream(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.Router())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return d.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	s, err := d.current()
	require.NoError(t, err)
	require.NoError(t, s.EnableOutput(ctx))

	sc := bufio.NewScanner(resp.Body)
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
			break
		}
	}

	assert.Equal(t, events.OutputState, name)
	payload, err := events.DecodeAs[events.OutputStateEvent](events.Event{Name: name, Data: json.RawMessage(data)})
	require.NoError(t, err)
	assert.True(t, payload.Enabled)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&te5025.RangeError{}, http.StatusBadRequest},
		{&te5025.ParseError{}, http.StatusBadRequest},
		{&te5025.CommandRejectedError{}, http.StatusConflict},
		{&te5025.InterlockMismatchError{}, http.StatusConflict},
		{&te5025.TimeoutError{}, http.StatusGatewayTimeout},
		{te5025.ErrNotConnected, http.StatusServiceUnavailable},
		{&te5025.ConnectionError{Err: errors.New("x")}, http.StatusBadGateway},
		{errSequenceRunning, http.StatusConflict},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
