package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/daemon"
	"github.com/charlie0129/te5025/pkg/events"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/types"
	"github.com/charlie0129/te5025/pkg/utils/ptr"
)

// newTestClient serves a simulated daemon on a unix socket.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	dir := t.TempDir()
	conf := config.NewFileFromConfig(&config.RawFileConfig{
		Simulate:           ptr.To(true),
		TimeoutMillis:      ptr.To(200),
		CommandDelayMillis: ptr.To(0),
	}, filepath.Join(dir, "config.json"))

	d := daemon.New(conf)
	require.NoError(t, d.Connect(context.Background()))

	socket := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(d.Router())
	srv.Listener = l
	srv.Start()

	t.Cleanup(func() {
		srv.Close()
		_ = d.Disconnect(context.Background())
	})

	return NewClient(socket)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetVersion(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestIdentityAndStatus(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5025C", id.Model)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.OutputEnabled)

	fns, err := c.Functions(ctx)
	require.NoError(t, err)
	assert.Contains(t, fns, te5025.FunctionDCVoltage)
}

func TestOutput(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	r, err := c.SetOutput(ctx, te5025.DCVoltage{Range: 20, Amplitude: 5})
	require.NoError(t, err)
	assert.Equal(t, te5025.Reading{Value: 5, Unit: te5025.UnitVolt}, r)

	require.NoError(t, c.EnableOutput(ctx))
	enabled, err := c.OutputEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, c.DisableOutput(ctx))
	enabled, err = c.OutputEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	// Rejected locally.
	_, err = c.SetOutput(ctx, te5025.DCVoltage{Amplitude: 2000})
	assert.ErrorIs(t, err, te5025.ErrRange)

	// Rejected by the daemon.
	_, err = c.Put(ctx, "/output/setting", []byte(`{"function":"dcv","value":2000}`))
	assert.ErrorIs(t, err, te5025.ErrRange)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestQuery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.SetOutput(ctx, te5025.DCVoltage{Range: 20, Amplitude: 7})
	require.NoError(t, err)

	resp, err := c.Query(ctx, te5025.QueryVoltage)
	require.NoError(t, err)
	assert.Equal(t, 7.0, resp.Reading().Value)

	q, err := te5025.NewQuery("NOPE?", te5025.KindNumber, "")
	require.NoError(t, err)
	_, err = c.Query(ctx, q)
	assert.ErrorIs(t, err, te5025.ErrTimeout)

	_, err = c.Query(ctx, te5025.Query{})
	assert.ErrorIs(t, err, te5025.ErrInvalidQuery)

	infos, err := c.Queries(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, len(te5025.Queries()))
}

func TestErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	entries, err := c.Errors(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// An unknown header is queued as an error by the instrument.
	q, err := te5025.NewQuery("NOPE?", te5025.KindNumber, "")
	require.NoError(t, err)
	_, _ = c.Query(ctx, q)

	entries, err = c.Errors(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	assert.NoError(t, c.ClearErrors(ctx))
}

func TestRunSequence(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.LastSequence(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	data, err := os.ReadFile("../../docs/sequences/dc-voltage.yaml")
	require.NoError(t, err)

	report, err := c.RunSequence(ctx, "", data)
	require.NoError(t, err)
	assert.True(t, report.Passed, report.Error)
	assert.Equal(t, "dc-voltage", report.Sequence)

	last, err := c.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.ID, last.ID)

	_, err = c.RunSequence(ctx, "", []byte("steps: []"))
	assert.Error(t, err)
}

func TestRunnerThroughClient(t *testing.T) {
	c := newTestClient(t)

	seq, err := sequence.Load("../../docs/sequences/dc-voltage.yaml")
	require.NoError(t, err)

	report, err := sequence.NewRunner(c).Run(context.Background(), seq)
	require.NoError(t, err)
	assert.True(t, report.Passed)

	enabled, err := c.OutputEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestSchedule(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	seqPath, err := filepath.Abs("../../docs/sequences/dc-voltage.yaml")
	require.NoError(t, err)

	st, err := c.SetSchedule(ctx, "0 0 3 * * *", seqPath)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Len(t, st.NextRuns, 3)

	st, err = c.SkipSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	_, err = c.PostponeSchedule(ctx, 10*time.Minute)
	assert.NoError(t, err)

	_, err = c.SetSchedule(ctx, "whenever", "")
	assert.Error(t, err)

	st, err = c.SetSchedule(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, st.Enabled)

	got, err := c.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got.Cron)
}

func TestConfigAndVersion(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	conf, err := c.GetConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, conf.Simulate)
	assert.True(t, *conf.Simulate)

	v, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestSubscribeEvents(t *testing.T) {
	c := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.SubscribeEvents(ctx)
	require.NoError(t, err)

	require.NoError(t, c.EnableOutput(context.Background()))

	select {
	case ev := <-ch:
		require.Equal(t, events.OutputState, ev.Name)
		payload, err := events.DecodeAs[events.OutputStateEvent](ev)
		require.NoError(t, err)
		assert.True(t, payload.Enabled)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	for range ch {
	}
}

func TestReadEvents(t *testing.T) {
	stream := "event:a\ndata:{\"x\":1}\n\n: comment\n\nevent: b\ndata: 1\ndata: 2\n\n"
	ch := make(chan events.Event, 4)
	readEvents(context.Background(), strings.NewReader(stream), ch)
	close(ch)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.JSONEq(t, `{"x":1}`, string(got[0].Data))
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "1\n2", string(got[1].Data))
}

func TestAPIErrorIs(t *testing.T) {
	busy := newAPIError(http.StatusConflict, []byte(`{"error":"a sequence is running","code":"`+types.CodeBusy+`"}`))
	assert.ErrorIs(t, busy, ErrBusy)
	assert.NotErrorIs(t, busy, te5025.ErrInterlockMismatch)

	interlock := newAPIError(http.StatusConflict, []byte(`{"error":"mismatch","code":"interlock"}`))
	assert.ErrorIs(t, interlock, te5025.ErrInterlockMismatch)
	assert.NotErrorIs(t, interlock, ErrBusy)

	notFound := newAPIError(http.StatusNotFound, []byte("404 page not found"))
	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.Equal(t, "404 page not found", notFound.Message)
}
