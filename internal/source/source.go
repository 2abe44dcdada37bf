// Package source defines the contract shared by every scan source: a live
// sensor on a serial port or a recorded CSV replayed at full speed.
package source

import (
	"context"

	"github.com/banshee-data/rangescan/internal/scan"
)

// Kind names a source variant in logs and capture metadata.
type Kind string

const (
	KindLive   Kind = "live"
	KindReplay Kind = "replay"
)

// Source opens a handle on a scan provider. Open failures are
// scan.ErrConnection.
type Source interface {
	Kind() Kind
	Open(ctx context.Context) (Handle, error)
}

// Handle is an open connection to a source. A handle is owned by the pipeline
// that opened it and must not be shared.
//
// StopScan, StopMotor and Close are called by the shutdown sequencer in that
// order. Close must be idempotent: calls after the first return nil.
type Handle interface {
	Diagnostics(ctx context.Context) (scan.Diagnostics, error)
	Stream(ctx context.Context, maxBuffered int) (Stream, error)
	StopScan() error
	StopMotor() error
	Close() error
}

// Stream yields readings lazily. Next blocks until a reading is available,
// ctx is done, or the source fails. Finite sources return io.EOF once
// exhausted. A stream cannot be rewound; reopen the source instead.
type Stream interface {
	Next(ctx context.Context) (scan.Reading, error)
}

// Shedder is implemented by streams that discard input the consumer has
// fallen too far behind on. Shed returns the number of readings discarded so
// far.
type Shedder interface {
	Shed() int64
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(ctx context.Context) (scan.Reading, error)

// Next calls f(ctx).
func (f StreamFunc) Next(ctx context.Context) (scan.Reading, error) {
	return f(ctx)
}

// Slice returns a Stream over a fixed set of readings that ends with io.EOF.
func Slice(readings []scan.Reading) Stream {
	return &sliceStream{readings: readings}
}
