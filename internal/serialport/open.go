package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens a real serial port at path with its read timeout applied. The
// returned port implements ModemController and InputResetter.
func Open(path string, opts Options) (Porter, error) {
	norm, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := norm.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(norm.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial ports visible to the OS, for diagnostics.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

var _ Opener = Open
