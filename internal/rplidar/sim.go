package rplidar

import (
	"bytes"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/serialport"
	"github.com/banshee-data/rangescan/internal/timeutil"
)

// SimPort emulates an RPLIDAR on the serial side. It answers GET_INFO and
// GET_HEALTH and, after SCAN, produces an endless series of sweeps of a
// rectangular room until STOP. Used by `rangescan record --simulate` and by
// tests.
type SimPort struct {
	Info      Info
	Health    scan.HealthStatus
	ErrorCode int

	// PointsPerSweep defaults to 360.
	PointsPerSweep int
	// SweepInterval paces sweep generation; zero produces as fast as read.
	SweepInterval time.Duration
	Clock         timeutil.Clock

	// Range returns the distance in mm seen at an angle. Defaults to a
	// 4 m x 3 m room centred on the sensor.
	Range func(angleDeg float64) float64

	mu       sync.Mutex
	out      bytes.Buffer
	scanning bool
	sweeps   int
	dtr      []bool
	pwm      []int
	closed   bool
}

var (
	_ serialport.Porter          = (*SimPort)(nil)
	_ serialport.ModemController = (*SimPort)(nil)
	_ serialport.InputResetter   = (*SimPort)(nil)
)

// NewSimPort returns a healthy simulated A1.
func NewSimPort() *SimPort {
	serial := make([]byte, 16)
	for i := range serial {
		serial[i] = byte(i * 17)
	}
	info, _ := ParseInfo(append([]byte{24, 29, 1, 7}, serial...))
	return &SimPort{Info: info, Health: scan.HealthGood}
}

// Opener returns a serialport.Opener that always hands back p.
func (p *SimPort) Opener() serialport.Opener {
	return func(string, serialport.Options) (serialport.Porter, error) { return p, nil }
}

// RoomRange is the default Range: a 4 m x 3 m rectangle.
func RoomRange(angleDeg float64) float64 {
	const halfW, halfH = 2000.0, 1500.0
	rad := angleDeg * math.Pi / 180
	c, s := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	dx, dy := math.Inf(1), math.Inf(1)
	if c > 1e-9 {
		dx = halfW / c
	}
	if s > 1e-9 {
		dy = halfH / s
	}
	return math.Min(dx, dy)
}

func (p *SimPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, serialport.ErrPortClosed
	}
	if len(b) < 2 || b[0] != SyncByte {
		return len(b), nil
	}
	switch b[1] {
	case CmdGetInfo:
		p.out.Write(EncodeDescriptor(Descriptor{Size: InfoLen, Mode: ModeSingle, Type: TypeInfo}))
		p.out.Write(p.infoBytes())
	case CmdGetHealth:
		p.out.Write(EncodeDescriptor(Descriptor{Size: HealthLen, Mode: ModeSingle, Type: TypeHealth}))
		code := uint16(p.ErrorCode)
		p.out.Write([]byte{healthByte(p.Health), byte(code), byte(code >> 8)})
	case CmdScan:
		p.out.Write(EncodeDescriptor(Descriptor{Size: MeasurementLen, Mode: ModeMulti, Type: TypeScan}))
		p.scanning = true
	case CmdStop, CmdReset:
		p.scanning = false
	case CmdSetPWM:
		if len(b) >= 5 {
			p.pwm = append(p.pwm, int(b[3])|int(b[4])<<8)
		}
	}
	return len(b), nil
}

func (p *SimPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, serialport.ErrPortClosed
	}
	if p.out.Len() == 0 && p.scanning {
		p.generateSweep()
		interval, clock := p.SweepInterval, timeutil.OrReal(p.Clock)
		p.mu.Unlock()
		if interval > 0 {
			clock.Sleep(interval)
		}
		p.mu.Lock()
	}
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		return 0, nil
	}
	return p.out.Read(b)
}

func (p *SimPort) generateSweep() {
	n := p.PointsPerSweep
	if n <= 0 {
		n = 360
	}
	rng := p.Range
	if rng == nil {
		rng = RoomRange
	}
	for i := 0; i < n; i++ {
		angle := float64(i) * 360 / float64(n)
		p.out.Write(EncodeMeasurement(scan.Reading{
			NewSweep:   i == 0,
			Quality:    47,
			AngleDeg:   angle,
			DistanceMM: rng(angle),
		}))
	}
	p.sweeps++
}

func (p *SimPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.scanning = false
	return nil
}

func (p *SimPort) SetDTR(dtr bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = append(p.dtr, dtr)
	return nil
}

func (p *SimPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Reset()
	return nil
}

// Sweeps returns the number of sweeps generated so far.
func (p *SimPort) Sweeps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweeps
}

// MotorHistory returns the recorded DTR levels and PWM duty cycles.
func (p *SimPort) MotorHistory() (dtr []bool, pwm []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.dtr...), append([]int(nil), p.pwm...)
}

func (p *SimPort) infoBytes() []byte {
	b := make([]byte, 0, InfoLen)
	b = append(b, byte(p.Info.Model), byte(p.Info.Firmware.Minor), byte(p.Info.Firmware.Major), byte(p.Info.Hardware))
	serial := make([]byte, 16)
	if raw, err := hexDecode(p.Info.Serial); err == nil {
		copy(serial, raw)
	}
	return append(b, serial...)
}

func healthByte(s scan.HealthStatus) byte {
	switch s {
	case scan.HealthWarning:
		return 1
	case scan.HealthError:
		return 2
	default:
		return 0
	}
}
