// Package scan holds the data model shared by every stage of the range-scan
// pipeline: raw readings, points, frames, sensor diagnostics and the error
// taxonomy.
package scan

import (
	"fmt"
	"time"
)

// Sample is anything the validation stage can judge. Distance is expressed in
// the sample's native unit: millimetres for live readings and points, metres
// for replayed CSV rows. Thresholds are always chosen to match.
type Sample interface {
	Quality() int
	AngleDeg() float64
	Distance() float64
	OK() bool
}

// Reading is one raw measurement pulled from a source.
type Reading struct {
	NewSweep   bool    // first reading of a new rotation
	Quality    int     // 0-255
	AngleDeg   float64 // [0, 360)
	DistanceMM float64 // 0 means no return
	Valid      bool    // sensor-side validity flag
}

// Point returns the immutable point carried by the reading.
func (r Reading) Point() Point {
	return Point{Quality: r.Quality, AngleDeg: r.AngleDeg, DistanceMM: r.DistanceMM}
}

// sampleReading adapts a Reading to Sample without exporting conflicting
// method names on the struct itself.
type sampleReading struct{ r Reading }

func (s sampleReading) Quality() int      { return s.r.Quality }
func (s sampleReading) AngleDeg() float64 { return s.r.AngleDeg }
func (s sampleReading) Distance() float64 { return s.r.DistanceMM }
func (s sampleReading) OK() bool          { return s.r.Valid }

// AsSample views the reading as a Sample with distance in millimetres.
func (r Reading) AsSample() Sample { return sampleReading{r} }

// Point is a single accepted range return. Points are values and are never
// modified once a frame has been emitted.
type Point struct {
	Quality    int
	AngleDeg   float64
	DistanceMM float64
}

// AsSample views the point as an always-valid Sample in millimetres.
func (p Point) AsSample() Sample {
	return sampleReading{Reading{Quality: p.Quality, AngleDeg: p.AngleDeg, DistanceMM: p.DistanceMM, Valid: true}}
}

func (p Point) String() string {
	return fmt.Sprintf("(q=%d a=%.3f d=%.1fmm)", p.Quality, p.AngleDeg, p.DistanceMM)
}

// Frame is one full rotation of points sharing a timestamp. A frame handed to
// a consumer belongs to that consumer; the producer keeps no reference to it.
type Frame struct {
	Timestamp time.Time
	Points    []Point
}

// Len returns the number of points in the frame.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Points)
}

// HealthStatus is the normalised sensor health.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthGood
	HealthWarning
	HealthError
)

func (s HealthStatus) String() string {
	switch s {
	case HealthGood:
		return "Good"
	case HealthWarning:
		return "Warning"
	case HealthError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the status by name.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *HealthStatus) UnmarshalText(b []byte) error {
	*s = ParseHealthStatus(string(b))
	return nil
}

// ParseHealthStatus maps a status name back to its value. Unknown names map
// to HealthUnknown.
func ParseHealthStatus(s string) HealthStatus {
	switch s {
	case "Good":
		return HealthGood
	case "Warning":
		return HealthWarning
	case "Error":
		return HealthError
	default:
		return HealthUnknown
	}
}

// FirmwareVersion is a major.minor pair.
type FirmwareVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%02d", v.Major, v.Minor)
}

// Diagnostics is a normalised snapshot of device info and health.
type Diagnostics struct {
	Model     string          `json:"model"`
	Firmware  FirmwareVersion `json:"firmware"`
	Hardware  int             `json:"hardware"`
	Serial    string          `json:"serial,omitempty"`
	Status    HealthStatus    `json:"status"`
	ErrorCode int             `json:"error_code"`
}

// Healthy reports whether the device may be started.
func (d Diagnostics) Healthy() bool {
	return d.Status != HealthError
}
