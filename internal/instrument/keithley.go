package instrument

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"cell-tester/internal/model"

	"go.uber.org/zap"
)

// DefaultSCPIPort is the raw-socket SCPI port of Keithley 2400-series instruments.
const DefaultSCPIPort = "5025"

// bufferPoints is the digitizer buffer allocation used for pulse captures.
const bufferPoints = 100000

// settleMargin is added to the programmed pulse timeline before reading the buffer back.
const settleMargin = 500 * time.Millisecond

type KeithleyOptions struct {
	Terminals  string // "front" or "rear"
	SampleRate float64
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Keithley drives a 2461 SourceMeter over a newline-terminated SCPI stream.
type Keithley struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	r    *bufio.Reader
	opts KeithleyOptions
	log  *zap.Logger

	// sleep waits out pulse timelines; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Dial opens a raw SCPI socket (host or host:port) and initializes the instrument.
func Dial(ctx context.Context, addr string, opts KeithleyOptions) (*Keithley, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultSCPIPort)
	}
	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError("dial "+addr, ErrConnection, err)
	}
	k, err := NewKeithley(ctx, conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return k, nil
}

// NewKeithley wraps an open connection and puts the instrument into a known state:
// reset, 4-wire sensing, selected terminals, current source with auto-ranging, output off.
func NewKeithley(ctx context.Context, conn io.ReadWriteCloser, opts KeithleyOptions) (*Keithley, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = model.DefaultProtocolParams().SampleRate
	}
	k := &Keithley{
		conn:  conn,
		r:     bufio.NewReader(conn),
		opts:  opts,
		log:   opts.Logger.Named("keithley"),
		sleep: sleep,
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	err := k.writeAll(ctx,
		"*RST",
		"*CLS",
		":SENS:VOLT:RSEN ON",
		":ROUTe:TERMinals "+k.terminals(),
		":SOURce:FUNCtion CURRent",
		":SOURce:CURR:RANGe:AUTO ON",
		":SENS:VOLT:RANGe:AUTO ON",
		":SENS:CURR:RANGe:AUTO ON",
		":OUTPut:STATe OFF",
	)
	if err != nil {
		return nil, newError("initialize", ErrConnection, err)
	}
	k.log.Info("instrument configured", zap.String("terminals", k.terminals()))
	return k, nil
}

func (k *Keithley) terminals() string {
	if strings.EqualFold(k.opts.Terminals, "rear") {
		return "REAR"
	}
	return "FRONT"
}

func (k *Keithley) deadline() {
	if c, ok := k.conn.(interface{ SetDeadline(time.Time) error }); ok && k.opts.Timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(k.opts.Timeout))
	}
}

func (k *Keithley) write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.deadline()
	k.log.Debug("scpi write", zap.String("cmd", cmd))
	_, err := io.WriteString(k.conn, cmd+"\n")
	return err
}

func (k *Keithley) writeAll(ctx context.Context, cmds ...string) error {
	for _, c := range cmds {
		if err := k.write(ctx, c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

func (k *Keithley) query(ctx context.Context, cmd string) (string, error) {
	if err := k.write(ctx, cmd); err != nil {
		return "", err
	}
	k.deadline()
	line, err := k.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return cleanResponse(line), nil
}

// cleanResponse drops non-printable characters some firmware versions emit.
func cleanResponse(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func (k *Keithley) SetSourceCurrent(ctx context.Context, amps, voltageCompliance float64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	// Reset clears any digitizer/pulse configuration left from a previous pulse.
	err := k.writeAll(ctx,
		"*RST",
		":SENS:VOLT:RSEN ON",
		":ROUTe:TERMinals "+k.terminals(),
		`:SENS:FUNC "VOLT"`,
		":SOUR:FUNC CURR",
		":SOUR:CURR:RANG:AUTO ON",
		fmt.Sprintf(":SOUR:CURR:LEV %g", amps),
		fmt.Sprintf(":SOUR:CURR:VLIM %g", voltageCompliance),
	)
	if err != nil {
		return newError("source current", ErrInstrument, err)
	}
	return nil
}

func (k *Keithley) SetOutput(ctx context.Context, enabled bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cmd := ":OUTP OFF"
	if enabled {
		cmd = ":OUTP ON"
	}
	if err := k.write(ctx, cmd); err != nil {
		return newError("output", ErrInstrument, err)
	}
	return nil
}

func (k *Keithley) ReadVoltage(ctx context.Context) (float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.write(ctx, `:SENS:FUNC "VOLT"`); err != nil {
		return 0, newError("read voltage", ErrInstrument, err)
	}
	resp, err := k.query(ctx, ":READ?")
	if err != nil {
		return 0, newError("read voltage", ErrInstrument, err)
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, newError("read voltage", ErrInstrument, fmt.Errorf("parse %q: %w", resp, err))
	}
	return v, nil
}

// PulseTrainCommand formats the single-pulse :SOURce:PULSe:TRain:CURRent command.
// Arguments: bias, level, width, count, measure, buffer, delay, off time, bias limit, pulse limit, fail abort.
func PulseTrainCommand(spec model.PulseSpec) string {
	return fmt.Sprintf(
		`:SOURce:PULSe:TRain:CURRent %g, %g, %g, %d, %d, "defbuffer1", %g, %g, %g, %g, 0`,
		0.0,
		spec.Magnitude,
		spec.Width.Seconds(),
		1,
		1,
		spec.StartDelay.Seconds(),
		spec.OffTime().Seconds(),
		spec.VoltageCompliance,
		spec.VoltageCompliance,
	)
}

func (k *Keithley) ApplyCurrentPulse(ctx context.Context, spec model.PulseSpec) (model.WaveformTrace, error) {
	if err := spec.Validate(); err != nil {
		return model.WaveformTrace{}, newError("pulse", ErrInstrument, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.writeAll(ctx,
		":SOURce:FUNC CURRent",
		":SOURce:CURRent:READ:BACK ON",
		`:DIGitize:FUNC "VOLTage"`,
		":DIGitize:VOLTage:RSENse ON",
		":DIGitize:VOLTage:RANGe 10",
		fmt.Sprintf(":DIGitize:VOLTage:SRATe %d", int(k.opts.SampleRate)),
		fmt.Sprintf(`:TRACe:POINTS %d, "defbuffer1"`, bufferPoints),
		PulseTrainCommand(spec),
		":INIT",
	)
	if err != nil {
		return model.WaveformTrace{}, newError("pulse", ErrInstrument, err)
	}

	wait := spec.StartDelay + spec.Width + spec.OffTime() + settleMargin
	if err := k.sleep(ctx, wait); err != nil {
		return model.WaveformTrace{}, newError("pulse", ErrInstrument, err)
	}

	n := model.ExpectedSamples(k.opts.SampleRate, spec.Width)
	raw, err := k.query(ctx, fmt.Sprintf(`:TRACe:DATA? 1, %d, "defbuffer1", READ`, n))
	if err != nil {
		return model.WaveformTrace{}, newError("pulse readback", ErrInstrument, err)
	}
	samples, err := ParseSamples(raw)
	if err != nil {
		return model.WaveformTrace{}, err
	}
	k.log.Debug("pulse captured",
		zap.Float64("amps", spec.Magnitude),
		zap.Duration("width", spec.Width),
		zap.Int("samples", len(samples)))
	return model.WaveformTrace{SampleRate: k.opts.SampleRate, Samples: samples}, nil
}

// ParseSamples decodes a comma-separated buffer readback.
func ParseSamples(raw string) ([]float64, error) {
	raw = cleanResponse(raw)
	var out []float64
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, newError("decode samples", ErrAcquisition, fmt.Errorf("field %q: %w", f, err))
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, newError("decode samples", ErrAcquisition, fmt.Errorf("no voltage samples captured"))
	}
	return out, nil
}

func (k *Keithley) ConnectionCheck(ctx context.Context) (Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	resp, err := k.query(ctx, "*IDN?")
	if err != nil {
		return Identity{}, newError("identity", ErrConnection, err)
	}
	if resp == "" {
		return Identity{}, newError("identity", ErrConnection, fmt.Errorf("empty *IDN? response"))
	}
	return ParseIdentity(resp), nil
}

// Beep plays a rising two-tone beep on success and a single low tone otherwise.
func (k *Keithley) Beep(ctx context.Context, success bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !success {
		if err := k.write(ctx, "SYST:BEEP:IMM 600, 0.3"); err != nil {
			return newError("beep", ErrInstrument, err)
		}
		return nil
	}
	if err := k.write(ctx, "SYST:BEEP:IMM 1400, 0.1"); err != nil {
		return newError("beep", ErrInstrument, err)
	}
	if err := k.sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	if err := k.write(ctx, "SYST:BEEP:IMM 2000, 0.05"); err != nil {
		return newError("beep", ErrInstrument, err)
	}
	return nil
}

// Close turns the output off and closes the session. The close error wins over the write error.
func (k *Keithley) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	werr := k.write(context.Background(), ":OUTP OFF")
	if err := k.conn.Close(); err != nil {
		return newError("close", ErrInstrument, err)
	}
	if werr != nil {
		return newError("close", ErrInstrument, werr)
	}
	k.log.Info("instrument disconnected")
	return nil
}
