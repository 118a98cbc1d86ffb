package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/te5025/pkg/visa"
)

func ask(t *testing.T, in *Instrument, q string) string {
	t.Helper()

	require.NoError(t, in.Write(context.Background(), q))
	reply, err := in.Read(context.Background(), 100*time.Millisecond)
	require.NoError(t, err, "query %s", q)
	return reply
}

func TestIdentity(t *testing.T) {
	in := New()
	assert.Equal(t, DefaultIdentity, ask(t, in, "*IDN?"))

	in.SetFaults(Faults{Identity: "ACME,1,2,3"})
	assert.Equal(t, "ACME,1,2,3", ask(t, in, "*IDN?"))
}

func TestVoltageProgramming(t *testing.T) {
	in := New()
	ctx := context.Background()

	for _, cmd := range []string{"FUNC DC", "VOLT:RANG 20", "VOLT:AMPL -10"} {
		require.NoError(t, in.Write(ctx, cmd))
	}

	assert.Equal(t, "-1.000000E+01", ask(t, in, "VOLT:AMPL?"))
	assert.Equal(t, "+2.000000E+01", ask(t, in, "volt:rang?"))
	assert.Equal(t, `0,"No error"`, ask(t, in, "SYST:ERR?"))
}

func TestOutOfRangeQueuesError(t *testing.T) {
	in := New()
	ctx := context.Background()

	require.NoError(t, in.Write(ctx, "VOLT:RANG 20"))
	require.NoError(t, in.Write(ctx, "VOLT:AMPL 30"))
	require.NoError(t, in.Write(ctx, "BOGUS 1"))

	assert.Equal(t, "2", ask(t, in, "SYST:ERR:COUN?"))
	assert.Equal(t, `-222,"Data out of range"`, ask(t, in, "SYST:ERR?"))
	assert.Equal(t, `-113,"Undefined header"`, ask(t, in, "SYST:ERR?"))
	assert.Equal(t, "+0.000000E+00", ask(t, in, "VOLT:AMPL?"))
}

func TestSafetyLoop(t *testing.T) {
	in := New()
	in.SetFaults(Faults{SafetyLoopOpen: true})

	require.NoError(t, in.Write(context.Background(), "OUTP ON"))
	assert.Equal(t, "0", ask(t, in, "OUTP?"))
	assert.False(t, in.OutputEnabled())

	in.SetFaults(Faults{})
	require.NoError(t, in.Write(context.Background(), "OUTP ON"))
	assert.Equal(t, "1", ask(t, in, "OUTP?"))
}

func TestSilentAndUnknownQueriesTimeOut(t *testing.T) {
	in := New()
	ctx := context.Background()

	require.NoError(t, in.Write(ctx, "NOPE?"))
	_, err := in.Read(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, visa.ErrTimeout)

	in.SetFaults(Faults{Silent: true})
	require.NoError(t, in.Write(ctx, "*IDN?"))
	_, err = in.Read(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, visa.ErrTimeout)
}

func TestReplyDelayAndFlush(t *testing.T) {
	in := New()
	ctx := context.Background()
	in.SetFaults(Faults{ReplyDelay: 50 * time.Millisecond})

	require.NoError(t, in.Write(ctx, "OUTP?"))
	_, err := in.Read(ctx, 10*time.Millisecond)
	require.ErrorIs(t, err, visa.ErrTimeout)

	reply, err := in.Read(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "0", reply)

	require.NoError(t, in.Write(ctx, "OUTP?"))
	require.NoError(t, in.Flush())
	_, err = in.Read(ctx, 80*time.Millisecond)
	assert.ErrorIs(t, err, visa.ErrTimeout)
}

func TestWriteErrorAndClose(t *testing.T) {
	in := New()
	boom := errors.New("boom")
	in.SetFaults(Faults{WriteError: boom})

	assert.ErrorIs(t, in.Write(context.Background(), "OUTP OFF"), boom)
	assert.Equal(t, []string{"OUTP OFF"}, in.Writes())

	require.NoError(t, in.Close())
	assert.True(t, in.Closed())
	_, err := in.Read(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, visa.ErrClosed)

	res, err := in.Open(context.Background(), "sim", visa.Options{})
	require.NoError(t, err)
	assert.False(t, in.Closed())
	assert.NotNil(t, res)
}

func TestPowerReadback(t *testing.T) {
	in := New()
	ctx := context.Background()

	for _, cmd := range []string{"FUNC SIN", "POW:RANG 1000,20", "POW 230,5", "UNIT:PHAS DEG", "POW:PHASE 60", "UNIT:POW VA"} {
		require.NoError(t, in.Write(ctx, cmd))
	}

	assert.Equal(t, "+2.300000E+02,+5.000000E+00", ask(t, in, "POW?"))
	assert.Equal(t, "+1.150000E+03", ask(t, in, "POW:POW?"))

	require.NoError(t, in.Write(ctx, "UNIT:POW WATT"))
	assert.Equal(t, "+5.750000E+02", ask(t, in, "POW:POW?"))
}
