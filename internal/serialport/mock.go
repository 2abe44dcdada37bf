package serialport

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements Porter, ModemController and InputResetter with
// configurable behaviour for testing.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by Read once ReadBuffer is drained, if set
	ReadError error

	// WriteError is returned by every Write call if set
	WriteError error

	// WriteErrorOn fails only writes whose first command byte matches a key
	WriteErrorOn map[byte]error

	// CloseError is returned by Close if set
	CloseError error

	// DTRError is returned by SetDTR if set
	DTRError error

	// Closed indicates whether Close was called
	Closed bool

	// CloseCalls records the number of Close calls
	CloseCalls int

	// DTR records every SetDTR value in order
	DTR []bool

	// ResetInputCalls records the number of ResetInputBuffer calls
	ResetInputCalls int

	// IdleReads makes an empty buffer return (0, nil) like a timed-out
	// serial read instead of io.EOF
	IdleReads bool

	// OnWrite, when set, is called with each write; its return value is
	// appended to ReadBuffer. Used to script request/response exchanges.
	OnWrite func(p []byte) []byte
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read reads from the read buffer. When the buffer is empty it returns
// ReadError, (0, nil) with IdleReads, or io.EOF.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.ReadBuffer.Len() == 0 {
		if t.ReadError != nil {
			return 0, t.ReadError
		}
		if t.IdleReads {
			return 0, nil
		}
		return 0, io.EOF
	}
	return t.ReadBuffer.Read(p)
}

// Write captures p, optionally failing or scripting a response.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		return 0, t.WriteError
	}
	if len(p) > 1 && t.WriteErrorOn != nil {
		if err, ok := t.WriteErrorOn[p[1]]; ok {
			return 0, err
		}
	}
	t.WriteBuffer.Write(p)
	if t.OnWrite != nil {
		t.ReadBuffer.Write(t.OnWrite(append([]byte(nil), p...)))
	}
	return len(p), nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.CloseCalls++
	t.Closed = true
	return t.CloseError
}

// SetDTR records the DTR level.
func (t *TestablePort) SetDTR(dtr bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.DTRError != nil {
		return t.DTRError
	}
	t.DTR = append(t.DTR, dtr)
	return nil
}

// ResetInputBuffer discards unread data.
func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ResetInputCalls++
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// Written returns a copy of all data written to the port.
func (t *TestablePort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// Opener returns an Opener that hands back t, or err when err is non-nil.
func (t *TestablePort) Opener(err error) Opener {
	return func(path string, opts Options) (Porter, error) {
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
