package rplidar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/serialport"
	"github.com/banshee-data/rangescan/internal/source"
	"github.com/banshee-data/rangescan/internal/timeutil"
)

// DefaultIdleReads is how many consecutive empty reads (each bounded by the
// port read timeout) are tolerated before the link is declared dead.
const DefaultIdleReads = 20

const (
	stopSettle  = 100 * time.Millisecond
	motorSettle = time.Millisecond
)

var errClosed = errors.New("device closed")

// Source opens an RPLIDAR on a serial port.
type Source struct {
	Path    string
	Options serialport.Options

	// Opener defaults to serialport.Open.
	Opener serialport.Opener
	Clock  timeutil.Clock
	Logger *zerolog.Logger

	// MotorPWM defaults to DefaultMotorPWM.
	MotorPWM int
	// IdleReads defaults to DefaultIdleReads.
	IdleReads int
}

var _ source.Source = (*Source)(nil)

// Kind implements source.Source.
func (s *Source) Kind() source.Kind { return source.KindLive }

// Open opens the port and discards any stale input left by a previous run.
func (s *Source) Open(ctx context.Context) (source.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opener := s.Opener
	if opener == nil {
		opener = serialport.Open
	}
	port, err := opener(s.Path, s.Options)
	if err != nil {
		return nil, scan.ConnectionError("open", err)
	}

	log := monitoring.Logger()
	if s.Logger != nil {
		log = *s.Logger
	}
	d := &Device{
		port:      port,
		clock:     timeutil.OrReal(s.Clock),
		log:       log.With().Str("port", s.Path).Logger(),
		pwm:       s.MotorPWM,
		idleLimit: s.IdleReads,
	}
	if d.pwm <= 0 {
		d.pwm = DefaultMotorPWM
	}
	if d.idleLimit <= 0 {
		d.idleLimit = DefaultIdleReads
	}
	if err := d.resetInput(); err != nil {
		port.Close()
		return nil, scan.ConnectionError("open", err)
	}
	d.log.Debug().Msg("port opened")
	return d, nil
}

// Device is an open RPLIDAR. It implements source.Handle.
type Device struct {
	port      serialport.Porter
	clock     timeutil.Clock
	log       zerolog.Logger
	pwm       int
	idleLimit int

	mu     sync.Mutex
	closed bool
}

var _ source.Handle = (*Device)(nil)

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) resetInput() error {
	if r, ok := d.port.(serialport.InputResetter); ok {
		return r.ResetInputBuffer()
	}
	return nil
}

func (d *Device) send(cmd byte, payload []byte) error {
	if d.isClosed() {
		return errClosed
	}
	_, err := d.port.Write(EncodeRequest(cmd, payload))
	return err
}

// readFull fills buf, tolerating timed-out reads up to the idle limit.
func (d *Device) readFull(ctx context.Context, buf []byte) error {
	idle := 0
	for n := 0; n < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.isClosed() {
			return errClosed
		}
		m, err := d.port.Read(buf[n:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if m == 0 {
			idle++
			if idle >= d.idleLimit {
				return fmt.Errorf("no data after %d reads", idle)
			}
			continue
		}
		idle = 0
		n += m
	}
	return nil
}

func (d *Device) request(ctx context.Context, cmd byte, size int, typ byte) ([]byte, error) {
	if err := d.send(cmd, nil); err != nil {
		return nil, err
	}
	head := make([]byte, DescriptorLen)
	if err := d.readFull(ctx, head); err != nil {
		return nil, err
	}
	desc, err := ParseDescriptor(head)
	if err != nil {
		return nil, err
	}
	if err := desc.Expect(size, ModeSingle, typ); err != nil {
		return nil, err
	}
	body := make([]byte, size)
	if err := d.readFull(ctx, body); err != nil {
		return nil, err
	}
	return body, nil
}

// wrap keeps context errors intact so callers can tell an interrupt from a
// failed link.
func wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return scan.ConnectionError(op, err)
}

// Diagnostics queries GET_INFO then GET_HEALTH.
func (d *Device) Diagnostics(ctx context.Context) (scan.Diagnostics, error) {
	body, err := d.request(ctx, CmdGetInfo, InfoLen, TypeInfo)
	if err != nil {
		return scan.Diagnostics{}, wrap("get_info", err)
	}
	info, err := ParseInfo(body)
	if err != nil {
		return scan.Diagnostics{}, wrap("get_info", err)
	}

	body, err = d.request(ctx, CmdGetHealth, HealthLen, TypeHealth)
	if err != nil {
		return scan.Diagnostics{}, wrap("get_health", err)
	}
	status, code, err := ParseHealth(body)
	if err != nil {
		return scan.Diagnostics{}, wrap("get_health", err)
	}

	diag := Diagnostics(info, status, code)
	d.log.Info().
		Str("model", diag.Model).
		Stringer("firmware", diag.Firmware).
		Int("hardware", diag.Hardware).
		Stringer("health", diag.Status).
		Int("error_code", diag.ErrorCode).
		Msg("device diagnostics")
	return diag, nil
}

// StartMotor enables the motor line and sets the spin duty cycle.
func (d *Device) StartMotor() error {
	if m, ok := d.port.(serialport.ModemController); ok {
		if err := m.SetDTR(false); err != nil {
			return scan.ConnectionError("start_motor", err)
		}
	}
	if err := d.sendRaw(EncodeSetPWM(d.pwm)); err != nil {
		return scan.ConnectionError("start_motor", err)
	}
	return nil
}

func (d *Device) sendRaw(b []byte) error {
	if d.isClosed() {
		return errClosed
	}
	_, err := d.port.Write(b)
	return err
}

// Stream starts the motor, issues SCAN and returns a decoder over the
// measurement stream. Reads are chunked to at most maxBuffered measurements.
// A read that fills the whole chunk means at least maxBuffered measurements
// were queued behind the consumer; that backlog is discarded and counted by
// Shed. The read after a discard is always kept.
func (d *Device) Stream(ctx context.Context, maxBuffered int) (source.Stream, error) {
	if maxBuffered < 1 {
		return nil, scan.ConfigurationError("stream", "max buffered measurements must be >= 1, got %d", maxBuffered)
	}
	if err := d.StartMotor(); err != nil {
		return nil, err
	}
	if err := d.send(CmdScan, nil); err != nil {
		return nil, wrap("start_scan", err)
	}
	head := make([]byte, DescriptorLen)
	if err := d.readFull(ctx, head); err != nil {
		return nil, wrap("start_scan", err)
	}
	desc, err := ParseDescriptor(head)
	if err == nil {
		err = desc.Expect(MeasurementLen, ModeMulti, TypeScan)
	}
	if err != nil {
		return nil, wrap("start_scan", err)
	}
	d.log.Debug().Int("max_buf_meas", maxBuffered).Msg("scan started")
	return &measurementStream{dev: d, chunk: make([]byte, maxBuffered*MeasurementLen)}, nil
}

// StopScan sends STOP, lets the device settle and discards queued input.
// It does nothing once the device is closed.
func (d *Device) StopScan() error {
	if d.isClosed() {
		return nil
	}
	if err := d.send(CmdStop, nil); err != nil {
		return scan.ConnectionError("stop_scan", err)
	}
	d.clock.Sleep(stopSettle)
	if err := d.resetInput(); err != nil {
		return scan.ConnectionError("stop_scan", err)
	}
	return nil
}

// StopMotor sets the duty cycle to zero and releases the motor line. It does
// nothing once the device is closed.
func (d *Device) StopMotor() error {
	if d.isClosed() {
		return nil
	}
	if err := d.sendRaw(EncodeSetPWM(0)); err != nil {
		return scan.ConnectionError("stop_motor", err)
	}
	d.clock.Sleep(motorSettle)
	if m, ok := d.port.(serialport.ModemController); ok {
		if err := m.SetDTR(true); err != nil {
			return scan.ConnectionError("stop_motor", err)
		}
	}
	return nil
}

// Close releases the port. Calls after the first return nil.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.port.Close(); err != nil {
		return scan.ConnectionError("close", err)
	}
	d.log.Debug().Msg("port closed")
	return nil
}

type measurementStream struct {
	dev     *Device
	chunk   []byte
	pending []byte
	err     error

	shed     int64
	lastShed bool
	warned   bool
}

var _ source.Shedder = (*measurementStream)(nil)

// Shed returns the number of measurements discarded as backlog.
func (s *measurementStream) Shed() int64 { return s.shed }

// Next decodes the next measurement, refilling from the port as needed.
// Failures are sticky.
func (s *measurementStream) Next(ctx context.Context) (scan.Reading, error) {
	if s.err != nil {
		return scan.Reading{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return scan.Reading{}, err
	}
	for len(s.pending) < MeasurementLen {
		if err := ctx.Err(); err != nil {
			return scan.Reading{}, err
		}
		if err := s.fill(ctx); err != nil {
			if ctx.Err() != nil {
				return scan.Reading{}, err
			}
			s.err = wrap("read_scan", err)
			return scan.Reading{}, s.err
		}
	}
	r, err := DecodeMeasurement(s.pending[:MeasurementLen])
	s.pending = s.pending[MeasurementLen:]
	if err != nil {
		s.err = wrap("read_scan", err)
		return scan.Reading{}, s.err
	}
	return r, nil
}

func (s *measurementStream) fill(ctx context.Context) error {
	// Keep the unread tail at the front of the buffer.
	rest := copy(s.chunk, s.pending)
	idle := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.dev.isClosed() {
			return errClosed
		}
		n, err := s.dev.port.Read(s.chunk[rest:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if n == 0 {
			idle++
			if idle >= s.dev.idleLimit {
				return fmt.Errorf("no data after %d reads", idle)
			}
			continue
		}
		idle = 0
		if rest+n == len(s.chunk) && !s.lastShed {
			// A full chunk is whole measurements, so dropping it keeps
			// the decoder aligned.
			s.lastShed = true
			s.shed += int64(len(s.chunk) / MeasurementLen)
			if !s.warned {
				s.warned = true
				s.dev.log.Warn().Int("max_buf_meas", len(s.chunk)/MeasurementLen).Msg("consumer behind, discarding queued measurements")
			}
			rest = 0
			s.pending = nil
			continue
		}
		s.lastShed = false
		s.pending = s.chunk[:rest+n]
		return nil
	}
}
