// Package serialport is the thin seam between the sensor driver and a real
// serial device. Production code opens ports through go.bug.st/serial; tests
// substitute TestablePort.
package serialport

import "io"

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// ModemController is implemented by ports that expose the DTR line. RPLIDAR
// A1 adapters wire DTR to the motor enable pin.
type ModemController interface {
	SetDTR(dtr bool) error
}

// InputResetter is implemented by ports that can discard unread input.
type InputResetter interface {
	ResetInputBuffer() error
}

// Opener opens the port at path with the given options. Sources hold an
// Opener so tests can hand back a TestablePort.
type Opener func(path string, opts Options) (Porter, error)
