package replay

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/banshee-data/rangescan/internal/fsutil"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/source"
)

var errStreamStarted = errors.New("stream already started; reopen the source")

// Source replays a dataset as a finite scan source. When Samples is nil the
// file at Path is loaded on Open.
type Source struct {
	Path    string
	FS      fsutil.FileSystem
	Samples Dataset
}

var _ source.Source = (*Source)(nil)

func (s *Source) Kind() source.Kind { return source.KindReplay }

// Open loads the dataset if needed and returns a handle over it.
func (s *Source) Open(ctx context.Context) (source.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := s.Samples
	if data == nil {
		var err error
		data, err = LoadFile(s.FS, s.Path)
		if err != nil {
			return nil, err
		}
	}
	return &handle{name: s.Path, data: data}, nil
}

type handle struct {
	name string
	data Dataset

	mu       sync.Mutex
	streamed bool
	closed   bool
}

func (h *handle) Diagnostics(ctx context.Context) (scan.Diagnostics, error) {
	if err := ctx.Err(); err != nil {
		return scan.Diagnostics{}, err
	}
	return scan.Diagnostics{Model: "replay", Serial: h.name, Status: scan.HealthGood}, nil
}

func (h *handle) Stream(ctx context.Context, maxBuffered int) (source.Stream, error) {
	if maxBuffered < 1 {
		return nil, scan.ConfigurationError("stream", "max buffered measurements must be >= 1, got %d", maxBuffered)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, scan.ConnectionError("stream", errors.New("handle closed"))
	}
	if h.streamed {
		return nil, scan.ConnectionError("stream", errStreamStarted)
	}
	h.streamed = true
	return &stream{data: h.data}, nil
}

// Replay has no motor; stopping is a no-op.
func (h *handle) StopScan() error  { return nil }
func (h *handle) StopMotor() error { return nil }

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type stream struct {
	data Dataset
	pos  int
	prev float64
}

// Next marks a new sweep on the first row and whenever the angle wraps.
func (s *stream) Next(ctx context.Context) (scan.Reading, error) {
	if err := ctx.Err(); err != nil {
		return scan.Reading{}, err
	}
	if s.pos >= len(s.data) {
		return scan.Reading{}, io.EOF
	}
	row := s.data[s.pos]
	newSweep := s.pos == 0 || row.Angle < s.prev
	s.prev = row.Angle
	s.pos++
	return row.Reading(newSweep), nil
}
