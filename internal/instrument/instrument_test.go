package instrument

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"cell-tester/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn answers every query (a line containing '?') with the next scripted response.
type fakeConn struct {
	written   []string
	responses []string
	pending   bytes.Buffer
	closed    bool
}

func (f *fakeConn) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		f.written = append(f.written, line)
		if strings.Contains(line, "?") {
			if len(f.responses) == 0 {
				continue
			}
			f.pending.WriteString(f.responses[0] + "\n")
			f.responses = f.responses[1:]
		}
	}
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if f.pending.Len() == 0 {
		return 0, io.EOF
	}
	return f.pending.Read(p)
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestKeithley(t *testing.T, conn *fakeConn) *Keithley {
	t.Helper()
	k, err := NewKeithley(context.Background(), conn, KeithleyOptions{Terminals: "rear", SampleRate: 500000})
	require.NoError(t, err)
	k.sleep = func(context.Context, time.Duration) error { return nil }
	return k
}

func TestParseIdentity(t *testing.T) {
	id := ParseIdentity("KEITHLEY INSTRUMENTS,MODEL 2461,04628946,1.7.3b\n")
	assert.Equal(t, "KEITHLEY INSTRUMENTS", id.Manufacturer)
	assert.Equal(t, "MODEL 2461", id.Model)
	assert.Equal(t, "04628946", id.Serial)
	assert.Equal(t, "1.7.3b", id.Firmware)

	short := ParseIdentity("weird")
	assert.Empty(t, short.Model)
	assert.Equal(t, "weird", short.String())
}

func TestParseSamples(t *testing.T) {
	got, err := ParseSamples("3.70,3.80, 3.81,\x003.79\r")
	require.NoError(t, err)
	assert.Equal(t, []float64{3.70, 3.80, 3.81, 3.79}, got)

	_, err = ParseSamples("")
	assert.ErrorIs(t, err, ErrAcquisition)

	_, err = ParseSamples("3.7,abc")
	assert.ErrorIs(t, err, ErrAcquisition)
}

func TestPulseTrainCommand(t *testing.T) {
	cmd := PulseTrainCommand(model.PulseSpec{
		Magnitude:         -1,
		Width:             2500 * time.Microsecond,
		VoltageCompliance: 2.5,
	})
	assert.Equal(t, `:SOURce:PULSe:TRain:CURRent 0, -1, 0.0025, 1, 1, "defbuffer1", 0, 0.025, 2.5, 2.5, 0`, cmd)
}

func TestKeithley_InitSelectsTerminalsAndLeavesOutputOff(t *testing.T) {
	conn := &fakeConn{}
	newTestKeithley(t, conn)
	assert.Contains(t, conn.written, ":ROUTe:TERMinals REAR")
	assert.Contains(t, conn.written, ":SENS:VOLT:RSEN ON")
	assert.Equal(t, ":OUTPut:STATe OFF", conn.written[len(conn.written)-1])
}

func TestKeithley_ReadVoltage(t *testing.T) {
	conn := &fakeConn{responses: []string{"3.7012"}}
	k := newTestKeithley(t, conn)
	v, err := k.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.7012, v, 1e-9)

	_, err = k.ReadVoltage(context.Background())
	assert.ErrorIs(t, err, ErrInstrument, "no response means EOF")
}

func TestKeithley_SetSourceCurrent(t *testing.T) {
	conn := &fakeConn{}
	k := newTestKeithley(t, conn)
	conn.written = nil
	require.NoError(t, k.SetSourceCurrent(context.Background(), -1, 2.5))
	assert.Contains(t, conn.written, ":SOUR:CURR:LEV -1")
	assert.Contains(t, conn.written, ":SOUR:CURR:VLIM 2.5")
	assert.Equal(t, "*RST", conn.written[0])
}

func TestKeithley_ApplyCurrentPulse(t *testing.T) {
	conn := &fakeConn{responses: []string{"3.7,3.8,3.8,3.8,3.7"}}
	k := newTestKeithley(t, conn)
	var waited time.Duration
	k.sleep = func(_ context.Context, d time.Duration) error { waited = d; return nil }

	spec := model.PulseSpec{Magnitude: 1, Width: 2500 * time.Microsecond, VoltageCompliance: 4.2}
	tr, err := k.ApplyCurrentPulse(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.7, 3.8, 3.8, 3.8, 3.7}, tr.Samples)
	assert.Equal(t, 500000.0, tr.SampleRate)
	assert.Equal(t, 2500*time.Microsecond+25*time.Millisecond+500*time.Millisecond, waited)
	assert.Contains(t, conn.written, `:TRACe:DATA? 1, 1350, "defbuffer1", READ`)
	assert.Contains(t, conn.written, ":DIGitize:VOLTage:SRATe 500000")
}

func TestKeithley_ApplyCurrentPulse_EmptyBuffer(t *testing.T) {
	conn := &fakeConn{responses: []string{""}}
	k := newTestKeithley(t, conn)
	_, err := k.ApplyCurrentPulse(context.Background(), model.PulseSpec{Magnitude: 1, Width: time.Millisecond, VoltageCompliance: 4.2})
	assert.ErrorIs(t, err, ErrAcquisition)
}

func TestKeithley_ConnectionCheckAndClose(t *testing.T) {
	conn := &fakeConn{responses: []string{"KEITHLEY INSTRUMENTS,MODEL 2461,1,2"}}
	k := newTestKeithley(t, conn)
	id, err := k.ConnectionCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MODEL 2461", id.Model)

	_, err = k.ConnectionCheck(context.Background())
	assert.ErrorIs(t, err, ErrConnection)

	require.NoError(t, k.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, ":OUTP OFF", conn.written[len(conn.written)-1])
}

func TestSimulator_Voltages(t *testing.T) {
	ctx := context.Background()
	s := NewSimulator(500000)

	v, err := s.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, SimIdleVoltage, v)

	require.NoError(t, s.SetSourceCurrent(ctx, -1, 2.5))
	require.NoError(t, s.SetOutput(ctx, true))
	v, err = s.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, SimDischargeVoltage, v)

	require.NoError(t, s.SetSourceCurrent(ctx, 0, 4.2))
	v, err = s.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, SimIdleVoltage, v, "zero current draws nothing")
}

func TestSimulator_PulseTrace(t *testing.T) {
	s := NewSimulator(500000)
	tr, err := s.ApplyCurrentPulse(context.Background(), model.PulseSpec{Magnitude: 1, Width: 2500 * time.Microsecond, VoltageCompliance: 4.2})
	require.NoError(t, err)
	assert.Equal(t, 1350, tr.Len())
	assert.InDelta(t, SimIdleVoltage, tr.Samples[0], 1e-12)
	assert.InDelta(t, SimChargeVoltage, tr.Samples[tr.Len()/2], 1e-12)
	assert.InDelta(t, SimIdleVoltage, tr.Samples[tr.Len()-1], 1e-12)
}

func TestSimulator_Faults(t *testing.T) {
	ctx := context.Background()
	spec := model.PulseSpec{Magnitude: 1, Width: time.Millisecond, VoltageCompliance: 4.2}

	s := NewSimulator(500000)
	s.EmptyTrace = true
	_, err := s.ApplyCurrentPulse(ctx, spec)
	assert.ErrorIs(t, err, ErrAcquisition)

	s = NewSimulator(500000)
	s.ConnectErr = errors.New("usb unplugged")
	_, err = s.ConnectionCheck(ctx)
	assert.ErrorIs(t, err, ErrConnection)

	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "identity", ierr.Op)
}

func TestUse_ClosesOnError(t *testing.T) {
	s := NewSimulator(500000)
	boom := errors.New("boom")
	err := Use(s, func(p Port) error {
		require.NoError(t, p.SetOutput(context.Background(), true))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.Closed())
	assert.False(t, s.OutputEnabled())
}
